// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package importapi is the externally-visible request surface: two
// net/http.HandlerFuncs a host judge mounts on its own router
// (CreateImport, Retrigger), a third for polling a dispatched job's
// progress (JobStatus), and two standalone helpers
// (SuggestProblemCode, ValidateProblemCode) a host's "new import" form
// can call directly. Routing, authentication, and request-scoped
// logging belong to the host; this package only checks the two
// authorization predicates (import capability, and edit-problem once
// a ProblemSource is already realized), via judgehost.Authorizer,
// before handing off to pkg/importjob.
package importapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/jobrunner"
	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/internal/output"
	"github.com/kraklabs/polyimport/pkg/importjob"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
	"github.com/kraklabs/polyimport/pkg/store"
)

// profileContextKey is the request-context key a host installs a
// caller's judgehost.ProfileRef under before routing to these handlers.
type profileContextKey struct{}

// WithProfile returns a context carrying profile, for a host's own
// auth middleware to attach before calling a handler in this package.
func WithProfile(ctx context.Context, profile judgehost.ProfileRef) context.Context {
	return context.WithValue(ctx, profileContextKey{}, profile)
}

// ProfileFromContext retrieves the caller profile WithProfile attached,
// if any.
func ProfileFromContext(ctx context.Context) (judgehost.ProfileRef, bool) {
	p, ok := ctx.Value(profileContextKey{}).(judgehost.ProfileRef)
	return p, ok
}

// API holds everything the three handlers need to dispatch and poll
// import jobs.
type API struct {
	Store      *store.Backend
	Pool       *jobrunner.Pool
	Host       importjob.Host
	JobConfig  importjob.Config
	Authorizer judgehost.Authorizer
}

// New returns an API ready to have its handler methods mounted on a
// host router.
func New(db *store.Backend, pool *jobrunner.Pool, host importjob.Host, cfg importjob.Config, authz judgehost.Authorizer) *API {
	return &API{Store: db, Pool: pool, Host: host, JobConfig: cfg, Authorizer: authz}
}

type jobResponse struct {
	JobID           int64 `json:"job_id"`
	ProblemSourceID int64 `json:"problem_source_id"`
	ImportID        int64 `json:"import_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = output.JSONTo(w, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeImportErr(w http.ResponseWriter, status int, err *importerr.ProblemImportError) {
	writeJSON(w, status, err.ToJSON())
}

// requireProfile fetches the caller's profile from the request
// context, writing a 401 and returning false if the host never
// attached one.
func requireProfile(w http.ResponseWriter, r *http.Request) (judgehost.ProfileRef, bool) {
	profile, ok := ProfileFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no caller profile attached to request")
		return judgehost.ProfileRef{}, false
	}
	return profile, true
}

// createImportRequest is the CreateImport request body.
type createImportRequest struct {
	PolygonID   int64  `json:"polygon_id"`
	ProblemCode string `json:"problem_code"`
}

// CreateImport creates a new ProblemSource for polygon_id/problem_code
// (or reuses an existing one keyed by polygon_id) and dispatches an
// import job for it. Always responds 2xx with the dispatched job's id
// once authorization and validation pass.
func (a *API) CreateImport(w http.ResponseWriter, r *http.Request) {
	profile, ok := requireProfile(w, r)
	if !ok {
		return
	}

	var req createImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	ctx := r.Context()
	canImport, err := a.Authorizer.CanImportProblems(ctx, profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !canImport {
		writeError(w, http.StatusForbidden, "caller may not import problems")
		return
	}

	if !polygonmodel.ValidProblemCode(req.ProblemCode) {
		writeImportErr(w, http.StatusBadRequest, importerr.NewConfigError(
			"invalid problem code",
			fmt.Sprintf("%q does not match the required character class", req.ProblemCode),
			"problem codes are lowercase letters and digits only, up to 20 characters",
			nil,
		))
		return
	}

	inUse, err := a.Store.ProblemCodeInUse(ctx, req.ProblemCode, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inUse {
		writeImportErr(w, http.StatusConflict, importerr.NewDuplicateError(
			"problem code already in use",
			fmt.Sprintf("another problem source already claims %q", req.ProblemCode),
			"choose a different problem_code",
		))
		return
	}

	src, err := a.Store.GetOrCreateProblemSource(ctx, req.PolygonID, profile, req.ProblemCode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if src.Problem != nil {
		canEdit, err := a.Authorizer.CanEditProblem(ctx, profile, *src.Problem)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !canEdit {
			writeError(w, http.StatusForbidden, "caller may not edit the realized problem")
			return
		}
	}

	a.dispatch(w, r.Context(), profile, src)
}

// retriggerRequest is the Retrigger request body.
type retriggerRequest struct {
	ProblemSourceID int64 `json:"problem_source_id"`
}

// Retrigger re-runs the import pipeline for an existing ProblemSource.
func (a *API) Retrigger(w http.ResponseWriter, r *http.Request) {
	profile, ok := requireProfile(w, r)
	if !ok {
		return
	}

	var req retriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	ctx := r.Context()
	src, err := a.Store.GetProblemSourceByID(ctx, req.ProblemSourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if src == nil {
		writeError(w, http.StatusNotFound, "unknown problem_source_id")
		return
	}

	canImport, err := a.Authorizer.CanImportProblems(ctx, profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !canImport {
		writeError(w, http.StatusForbidden, "caller may not import problems")
		return
	}

	if src.Problem != nil {
		canEdit, err := a.Authorizer.CanEditProblem(ctx, profile, *src.Problem)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !canEdit {
			writeError(w, http.StatusForbidden, "caller may not edit the realized problem")
			return
		}
	}

	a.dispatch(w, r.Context(), profile, src)
}

// dispatch creates a new ProblemSourceImport row and submits the job
// to the pool, always responding 202 with its identifiers.
func (a *API) dispatch(w http.ResponseWriter, ctx context.Context, profile judgehost.ProfileRef, src *polygonmodel.ProblemSource) {
	imp, err := a.Store.CreateImport(ctx, src.ID, profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	params := importjob.Params{Source: src, ImportID: imp.ID, Author: profile}
	jobID := a.Pool.Submit(context.WithoutCancel(ctx), func(ctx context.Context, rep jobrunner.Reporter) error {
		return importjob.Run(ctx, params, a.Host, a.JobConfig, rep)
	})

	writeJSON(w, http.StatusAccepted, jobResponse{
		JobID:           jobID,
		ProblemSourceID: src.ID,
		ImportID:        imp.ID,
	})
}

// JobStatus exposes a dispatched job's jobrunner.Envelope as JSON. The
// job id is read from the "job_id" query parameter; the host is
// responsible for routing this handler to whatever path/method it
// prefers.
func (a *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("job_id")
	jobID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "job_id must be an integer")
		return
	}

	env, ok := a.Pool.Status(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job_id")
		return
	}

	writeJSON(w, http.StatusOK, env)
}

// CodeInUseChecker reports whether code is already claimed, so
// SuggestProblemCode can be tested without a *store.Backend.
type CodeInUseChecker func(ctx context.Context, code string) (bool, error)

// sanitizeProblemCode lowercases name and strips every character
// outside [a-z0-9], matching the original importer's heuristic.
func sanitizeProblemCode(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateForSuffix(base, suffix string) string {
	max := polygonmodel.MaxProblemCodeLength - len(suffix)
	if max < 1 {
		max = 1
	}
	if len(base) <= max {
		return base
	}
	return base[:max]
}

// SuggestProblemCode derives an unused problem_code from a Polygon
// problem's display name: lowercase, stripped to [a-z0-9], and on
// collision suffixed with 2..99. Returns an error rather than panicking
// once every suffix up to 99 is exhausted.
func SuggestProblemCode(ctx context.Context, name string, inUse CodeInUseChecker) (string, error) {
	base := sanitizeProblemCode(name)
	if base == "" {
		base = "problem"
	}
	if len(base) > polygonmodel.MaxProblemCodeLength {
		base = base[:polygonmodel.MaxProblemCodeLength]
	}

	taken, err := inUse(ctx, base)
	if err != nil {
		return "", fmt.Errorf("check problem code availability: %w", err)
	}
	if !taken {
		return base, nil
	}

	for n := 2; n <= 99; n++ {
		suffix := strconv.Itoa(n)
		candidate := truncateForSuffix(base, suffix) + suffix
		taken, err := inUse(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check problem code availability: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no unused problem code found for %q after trying suffixes 2..99", base)
}

// ValidateProblemCode reports whether code is a legal, unclaimed
// problem_code. Callers exclude their own ProblemSource from the
// collision check (if any) by baking that exclusion into inUse, e.g.
// via store.Backend.ProblemCodeInUse's excludeSourceID parameter.
func ValidateProblemCode(ctx context.Context, code string, inUse CodeInUseChecker) *importerr.ProblemImportError {
	if !polygonmodel.ValidProblemCode(code) {
		return importerr.NewConfigError(
			"invalid problem code",
			fmt.Sprintf("%q does not match the required character class", code),
			"problem codes are lowercase letters and digits only, up to 20 characters",
			nil,
		)
	}

	taken, err := inUse(ctx, code)
	if err != nil {
		return importerr.NewInternalError("could not check problem code availability", err.Error(), "retry the request", err)
	}
	if taken {
		return importerr.NewDuplicateError(
			"problem code already in use",
			fmt.Sprintf("another problem source already claims %q", code),
			"choose a different problem_code",
		)
	}
	return nil
}
