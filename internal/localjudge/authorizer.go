// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package localjudge

import (
	"context"

	"github.com/kraklabs/polyimport/internal/judgehost"
)

// Authorizer trivially permits every caller. Appropriate for
// cmd/polyimport's standalone mode: the person running the command
// already has filesystem access to the data directory, so there is no
// separate principal to deny.
type Authorizer struct{}

// NewAuthorizer returns an Authorizer.
func NewAuthorizer() Authorizer {
	return Authorizer{}
}

// CanImportProblems implements judgehost.Authorizer.
func (Authorizer) CanImportProblems(ctx context.Context, profile judgehost.ProfileRef) (bool, error) {
	return true, nil
}

// CanEditProblem implements judgehost.Authorizer.
func (Authorizer) CanEditProblem(ctx context.Context, profile judgehost.ProfileRef, problem judgehost.ProblemRef) (bool, error) {
	return true, nil
}
