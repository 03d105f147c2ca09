// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"

	"github.com/kraklabs/polyimport/internal/config"
	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/localjudge"
	"github.com/kraklabs/polyimport/internal/retry"
	"github.com/kraklabs/polyimport/pkg/assembler"
	"github.com/kraklabs/polyimport/pkg/importjob"
	"github.com/kraklabs/polyimport/pkg/polygonapi"
	"github.com/kraklabs/polyimport/pkg/store"
)

// app bundles the wiring every subcommand needs: the bookkeeping
// store, the Polygon client, and the standalone judgehost
// implementation pkg/assembler writes through.
type app struct {
	cfg       *config.Config
	store     *store.Backend
	polygon   *polygonapi.Client
	localhost *localjudge.Store
	authz     localjudge.Authorizer
}

func newApp(ctx context.Context, globals GlobalFlags) (*app, error) {
	cfg, err := config.Load(configPathOrDefault(globals))
	if err != nil {
		return nil, importerr.NewConfigError(
			"cannot load config",
			err.Error(),
			"create a polyimport.yaml, or pass --config pointing at one",
			err,
		)
	}

	db, err := store.Open(ctx, store.Config{DataDir: cfg.Store.DataDir})
	if err != nil {
		return nil, importerr.NewInternalError("cannot open local store", err.Error(), "", err)
	}

	client := polygonapi.New(polygonapi.Credentials{APIKey: cfg.Polygon.APIKey, APISecret: cfg.Polygon.APISecret})

	localStore, err := localjudge.Open(cfg.Store.DataDir+"/localjudge.json", localjudge.Options{
		DefaultLanguage:     cfg.Statement.DefaultLanguage,
		MemoryMinKB:         cfg.MemoryLimitKBRange[0],
		MemoryMaxKB:         cfg.MemoryLimitKBRange[1],
		RegisteredLanguages: cfg.SupportedCompilers,
	})
	if err != nil {
		return nil, importerr.NewInternalError(fmt.Sprintf("cannot open local judge state: %v", err), err.Error(), "", err)
	}
	localStore.SetMediaRoot(cfg.Statement.MediaRoot)

	return &app{
		cfg:       cfg,
		store:     db,
		polygon:   client,
		localhost: localStore,
		authz:     localjudge.NewAuthorizer(),
	}, nil
}

// host builds the importjob.Host this app's localjudge.Store backs.
func (a *app) host() importjob.Host {
	media := localjudge.NewFileMedia(a.cfg.Statement.MediaRoot, a.cfg.Statement.MediaURL)
	return importjob.Host{
		Assembler: assembler.Host{
			Problems:     a.localhost,
			Translations: a.localhost,
			Solutions:    a.localhost,
			Judging:      a.localhost,
			Media:        media,
			Config:       a.localhost,
			Tx:           a.localhost,
		},
		Store:   a.store,
		Polygon: a.polygon,
	}
}

func (a *app) jobConfig() importjob.Config {
	retryCfg := retry.DefaultConfig()
	if a.cfg.Polygon.MaxRetries > 0 {
		retryCfg.MaxRetries = a.cfg.Polygon.MaxRetries
	}
	return importjob.Config{
		PandocPath: a.cfg.Statement.PandocPath,
		LanguageOf: a.cfg.TranslateLanguage,
		Retry:      retryCfg,
	}
}

func (a *app) close() {
	_ = a.store.Close()
}
