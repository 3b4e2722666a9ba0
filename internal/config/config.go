// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads the TOML configuration file described in spec.md
// §6: storage paths, the bitcoind RPC/ZMQ endpoint, resource limits, the
// three Postgres connection blocks, metrics, and the BRC-20 engine's
// tunables.
package config

import (
	"bufio"
	"os"
	"reflect"
	"strconv"

	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/dagconfig"
)

// tomlSettings keeps TOML keys matched to Go struct field names without
// any case-folding surprises, the same decoder configuration the rest of
// the ecosystem uses for naoina/toml (pack: ethereum-mive-mive's
// cmd/mive/config.go).
var tomlSettings = toml.Config{
	NormFieldName: func(_ reflect.Type, key string) string { return key },
	FieldToKey:    func(_ reflect.Type, field string) string { return field },
}

// Storage is the [storage] table.
type Storage struct {
	WorkingDir string `toml:"working_dir"`
}

// Bitcoind is the [bitcoind] table.
type Bitcoind struct {
	Network     dagconfig.Network `toml:"network"`
	RPCURL      string            `toml:"rpc_url"`
	RPCUsername string            `toml:"rpc_username"`
	RPCPassword string            `toml:"rpc_password"`
	ZMQURL      string            `toml:"zmq_url"`
}

// Resources is the [resources] table.
type Resources struct {
	Ulimit                uint64 `toml:"ulimit"`
	CPUCoreAvailable      uint32 `toml:"cpu_core_available"`
	MemoryAvailable       uint64 `toml:"memory_available"`
	BitcoindRPCThreads    uint32 `toml:"bitcoind_rpc_threads"`
	BitcoindRPCTimeoutSec uint32 `toml:"bitcoind_rpc_timeout"`
	// ScratchPadWindow bounds the fork scratch pad kept for the ZMQ live
	// path (spec.md §4.1: "N = 7 for ZMQ live path"). Catch-up never
	// touches the scratch pad at all — it walks the pipeline straight
	// through already-buried heights — so only one window value exists.
	ScratchPadWindow uint32 `toml:"scratch_pad_window"`
	// SatTracerL2Cache bounds the satoshi tracer's cross-block LRU
	// (spec.md §4.4).
	SatTracerL2Cache uint32 `toml:"sat_tracer_l2_cache"`
}

// Database is one of the three Postgres connection blocks ([ordinals.db],
// [runes.db], [ordinals.meta_protocols.brc20.db]).
type Database struct {
	Database    string `toml:"database"`
	Host        string `toml:"host"`
	Port        uint16 `toml:"port"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	SearchPath  string `toml:"search_path"`
	PoolMaxSize uint32 `toml:"pool_max_size"`
}

// DSN builds a libpq-style connection string for pgxpool.New.
func (d Database) DSN() string {
	searchPath := d.SearchPath
	if searchPath == "" {
		searchPath = "public"
	}
	return "postgres://" + d.Username + ":" + d.Password + "@" +
		d.Host + ":" + strconv.Itoa(int(d.Port)) + "/" + d.Database +
		"?search_path=" + searchPath + "&pool_max_conns=" + strconv.Itoa(int(d.PoolMaxSize))
}

// MigrateDSN builds a connection string for the migration runner, which
// goes through a plain database/sql connection rather than pgxpool and so
// doesn't understand the pool_max_conns parameter DSN sets.
func (d Database) MigrateDSN() string {
	searchPath := d.SearchPath
	if searchPath == "" {
		searchPath = "public"
	}
	return "postgres://" + d.Username + ":" + d.Password + "@" +
		d.Host + ":" + strconv.Itoa(int(d.Port)) + "/" + d.Database +
		"?search_path=" + searchPath + "&sslmode=disable"
}

// Metrics is the [metrics] table.
type Metrics struct {
	Enabled        bool   `toml:"enabled"`
	PrometheusPort uint16 `toml:"prometheus_port"`
}

// Brc20 is the [ordinals.meta_protocols.brc20] table.
type Brc20 struct {
	Enabled      bool `toml:"enabled"`
	LRUCacheSize int  `toml:"lru_cache_size"`
}

// Ordinals is the [ordinals] table.
type Ordinals struct {
	DB            Database      `toml:"db"`
	MetaProtocols MetaProtocols `toml:"meta_protocols"`
}

// MetaProtocols is the [ordinals.meta_protocols] table.
type MetaProtocols struct {
	Brc20 Brc20Section `toml:"brc20"`
}

// Brc20Section is the [ordinals.meta_protocols.brc20] table, which itself
// carries a nested [ordinals.meta_protocols.brc20.db] table.
type Brc20Section struct {
	Brc20
	DB Database `toml:"db"`
}

// Runes is the [runes] table.
type Runes struct {
	DB Database `toml:"db"`
}

// Config is the full TOML document.
type Config struct {
	Storage   Storage   `toml:"storage"`
	Bitcoind  Bitcoind  `toml:"bitcoind"`
	Resources Resources `toml:"resources"`
	Ordinals  Ordinals  `toml:"ordinals"`
	Runes     Runes     `toml:"runes"`
	Metrics   Metrics   `toml:"metrics"`
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: opening %s", path)
	}
	defer f.Close()

	var cfg Config
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}
	return &cfg, nil
}

// Save writes c out as TOML to path, creating or truncating it, for the
// `config new` subcommand.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "config: creating %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := tomlSettings.NewEncoder(w).Encode(c); err != nil {
		return errors.Wrapf(err, "config: encoding %s", path)
	}
	return errors.Wrap(w.Flush(), "config: flushing "+path)
}

// Default returns a Config populated with the network's standard
// defaults, the starting point for `config new`.
func Default(network dagconfig.Network) *Config {
	return &Config{
		Storage:  Storage{WorkingDir: "./ordhookd-data"},
		Bitcoind: Bitcoind{Network: network, RPCURL: "http://localhost:8332", ZMQURL: "tcp://localhost:28332"},
		Resources: Resources{
			Ulimit:                2048,
			CPUCoreAvailable:      4,
			BitcoindRPCThreads:    4,
			BitcoindRPCTimeoutSec: 15,
			ScratchPadWindow:      7,
			SatTracerL2Cache:      100_000,
		},
		Ordinals: Ordinals{
			DB: Database{Database: "ordinals", Host: "localhost", Port: 5432, SearchPath: "public", PoolMaxSize: 10},
			MetaProtocols: MetaProtocols{Brc20: Brc20Section{
				Brc20: Brc20{Enabled: true, LRUCacheSize: 100_000},
				DB:    Database{Database: "brc20", Host: "localhost", Port: 5432, SearchPath: "public", PoolMaxSize: 10},
			}},
		},
		Runes:   Runes{DB: Database{Database: "runes", Host: "localhost", Port: 5432, SearchPath: "public", PoolMaxSize: 10}},
		Metrics: Metrics{Enabled: true, PrometheusPort: 9153},
	}
}
