// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/bitcoind"
	"github.com/hirosystems/ordhookd/internal/blockstore"
	"github.com/hirosystems/ordhookd/internal/brc20db"
	"github.com/hirosystems/ordhookd/internal/config"
	"github.com/hirosystems/ordhookd/internal/dagconfig"
	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/metrics"
	"github.com/hirosystems/ordhookd/internal/ordinals"
	"github.com/hirosystems/ordhookd/internal/ordinalsdb"
	"github.com/hirosystems/ordhookd/internal/satoshi"
	"github.com/hirosystems/ordhookd/internal/service"
)

// rootLogFile is relative to a config's storage.working_dir.
const rootLogFile = "ordhookd.log"

// app bundles every open resource an indexing command needs. Callers must
// defer app.Close().
type app struct {
	cfg    *config.Config
	params *dagconfig.Params

	blocks  *blockstore.Store
	ords    *ordinalsdb.Store
	brc20db *brc20db.Store

	client  *bitcoind.Client
	decoder *bitcoind.Decoder

	met *metrics.Collectors
	svc *service.Service
}

// bootstrap loads configuration, opens every durable store, and wires a
// Service, ready for either catch-up or live indexing.
func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}

	if err := logs.InitRotator(filepath.Join(cfg.Storage.WorkingDir, rootLogFile), 10, 3); err != nil {
		return nil, errors.Wrap(err, "initializing log rotator")
	}

	params := dagconfig.ForNetwork(cfg.Bitcoind.Network)

	a := &app{cfg: cfg, params: params}

	a.blocks, err = blockstore.Open(filepath.Join(cfg.Storage.WorkingDir, "blocks"))
	if err != nil {
		return nil, errors.Wrap(err, "opening block store")
	}
	a.ords, err = ordinalsdb.Open(ctx, cfg.Ordinals.DB.DSN())
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "opening ordinals store")
	}
	a.brc20db, err = brc20db.Open(ctx, cfg.Ordinals.MetaProtocols.Brc20.DB.DSN())
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "opening brc20 store")
	}

	a.client = bitcoind.NewClient(bitcoind.Config{
		URL:      cfg.Bitcoind.RPCURL,
		Username: cfg.Bitcoind.RPCUsername,
		Password: cfg.Bitcoind.RPCPassword,
		Timeout:  time.Duration(cfg.Resources.BitcoindRPCTimeoutSec) * time.Second,
	})
	a.decoder = bitcoind.NewDecoder(params.FirstInscriptionHeight)

	if cfg.Metrics.Enabled {
		a.met = metrics.New()
	}

	cursor, err := ordinals.LoadSequenceCursor(a.ords)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "loading sequence cursor")
	}

	tracer := satoshi.NewTracer(a.blocks, a.blocks, int(cfg.Resources.SatTracerL2Cache), int(cfg.Resources.CPUCoreAvailable))

	a.svc = service.New(params, a.blocks, a.ords, a.brc20db, cursor, tracer, int(cfg.Resources.ScratchPadWindow), a.met)

	return a, nil
}

func (a *app) Close() {
	if a.brc20db != nil {
		a.brc20db.Close()
	}
	if a.ords != nil {
		a.ords.Close()
	}
	if a.blocks != nil {
		a.blocks.Close()
	}
}
