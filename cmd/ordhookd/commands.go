// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/bitcoind"
	"github.com/hirosystems/ordhookd/internal/blockhash"
	"github.com/hirosystems/ordhookd/internal/config"
	"github.com/hirosystems/ordhookd/internal/dagconfig"
	"github.com/hirosystems/ordhookd/internal/logs"
	"github.com/hirosystems/ordhookd/internal/metrics"
	"github.com/hirosystems/ordhookd/internal/migrate"
	"github.com/hirosystems/ordhookd/internal/pipeline"
	"github.com/hirosystems/ordhookd/internal/signals"
)

var log = logs.Subsystem("MAIN")

// globalOptions is embedded in every leaf command that needs an existing
// config file to run against.
type globalOptions struct {
	ConfigPath string `long:"config-path" description:"path to the ordhookd TOML config file" default:"ordhookd.toml"`
}

// Options is the full command tree, matching spec.md §6's CLI surface.
type Options struct {
	Service  serviceCommand  `command:"service" description:"run the indexer"`
	Index    indexCommand    `command:"index" description:"drive the download pipeline directly"`
	Database databaseCommand `command:"database" description:"manage the Postgres schemas"`
	Config   configCommand   `command:"config" description:"manage the TOML config file"`
}

type serviceCommand struct {
	Start serviceStartCommand `command:"start" description:"catch up, then index live off the ZMQ feed"`
}

type serviceStartCommand struct {
	globalOptions
}

func (c *serviceStartCommand) Execute([]string) error {
	ctx := context.Background()
	a, err := bootstrap(ctx, c.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.met != nil {
		go func() {
			if err := metrics.Server(ctx, fmt.Sprintf(":%d", a.cfg.Metrics.PrometheusPort)); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	info, err := a.client.GetBlockChainInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching chain tip height from bitcoind")
	}

	catchUpCfg := pipeline.Config{
		End:                info.Blocks,
		StartSequencingAt:  a.params.FirstInscriptionHeight,
		BitcoindRPCThreads: int(a.cfg.Resources.BitcoindRPCThreads),
	}
	if err := a.svc.CatchUp(ctx, a.client, a.decoder, catchUpCfg); err != nil {
		return errors.Wrap(err, "catching up")
	}

	tipHash, err := blockhash.NewFromString(info.BestBlockHash)
	if err != nil {
		return errors.Wrap(err, "parsing best block hash")
	}
	if err := a.svc.SeedScratchPad(ctx, a.client, tipHash); err != nil {
		return errors.Wrap(err, "seeding fork scratch pad")
	}

	sub := bitcoind.NewZMQSubscriber(a.cfg.Bitcoind.ZMQURL)
	fetch := func(ctx context.Context, height uint64) (pipeline.DecodedBlock, error) {
		raw, err := a.client.FetchRawBlock(ctx, height)
		if err != nil {
			return pipeline.DecodedBlock{}, err
		}
		return a.decoder.Decode(raw, height, height >= a.params.FirstInscriptionHeight)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-signals.InterruptListener()
		log.Infof("received interrupt, shutting down")
		cancel()
	}()

	return a.svc.RunLive(runCtx, a.client, sub, fetch)
}

type indexCommand struct {
	Sync     indexSyncCommand     `command:"sync" description:"run the download pipeline over an explicit height range"`
	Rollback indexRollbackCommand `command:"rollback" description:"roll every durable index back to a height"`
}

type indexSyncCommand struct {
	globalOptions
	Args struct {
		Start uint64 `positional-arg-name:"START"`
		End   uint64 `positional-arg-name:"END"`
	} `positional-args:"yes" required:"yes"`
}

func (c *indexSyncCommand) Execute([]string) error {
	ctx := context.Background()
	a, err := bootstrap(ctx, c.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := pipeline.Config{
		Start:              c.Args.Start,
		End:                c.Args.End,
		StartSequencingAt:  a.params.FirstInscriptionHeight,
		BitcoindRPCThreads: int(a.cfg.Resources.BitcoindRPCThreads),
	}
	return pipeline.Run(ctx, cfg, a.client, a.decoder, a.svc)
}

type indexRollbackCommand struct {
	globalOptions
	Args struct {
		Height uint64 `positional-arg-name:"N"`
	} `positional-args:"yes" required:"yes"`
}

func (c *indexRollbackCommand) Execute([]string) error {
	ctx := context.Background()
	a, err := bootstrap(ctx, c.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.svc.Rollback(ctx, c.Args.Height)
}

type databaseCommand struct {
	Migrate databaseMigrateCommand `command:"migrate" description:"apply pending SQL migrations to both Postgres databases"`
}

type databaseMigrateCommand struct {
	globalOptions
}

func (c *databaseMigrateCommand) Execute([]string) error {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	if err := migrate.Up(cfg.Ordinals.DB.MigrateDSN(), "migrations/ordinals", "ordinals"); err != nil {
		return err
	}
	return migrate.Up(cfg.Ordinals.MetaProtocols.Brc20.DB.MigrateDSN(), "migrations/brc20", "brc20")
}

type configCommand struct {
	New configNewCommand `command:"new" description:"write a default TOML config for the given network"`
}

type configNewCommand struct {
	Mainnet bool `long:"mainnet" description:"use mainnet defaults"`
	Testnet bool `long:"testnet" description:"use testnet defaults"`
	Signet  bool `long:"signet" description:"use signet defaults"`
	Regtest bool `long:"regtest" description:"use regtest defaults"`
	Args    struct {
		Path string `positional-arg-name:"PATH"`
	} `positional-args:"yes" required:"yes"`
}

func (c *configNewCommand) Execute([]string) error {
	network, err := c.network()
	if err != nil {
		return err
	}
	return config.Default(network).Save(c.Args.Path)
}

func (c *configNewCommand) network() (dagconfig.Network, error) {
	switch {
	case c.Mainnet:
		return dagconfig.Mainnet, nil
	case c.Testnet:
		return dagconfig.Testnet, nil
	case c.Signet:
		return dagconfig.Signet, nil
	case c.Regtest:
		return dagconfig.Regtest, nil
	default:
		return 0, errors.New("config new: exactly one of --mainnet, --testnet, --signet, --regtest is required")
	}
}
