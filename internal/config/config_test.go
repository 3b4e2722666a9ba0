// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/hirosystems/ordhookd/internal/dagconfig"
)

func TestDefaultSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordhookd.toml")

	want := Default(dagconfig.Signet)
	if err := want.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.Bitcoind.Network != dagconfig.Signet {
		t.Fatalf("network = %v, want signet", got.Bitcoind.Network)
	}
	if got.Resources.ScratchPadWindow != want.Resources.ScratchPadWindow {
		t.Fatalf("scratch pad window = %d, want %d", got.Resources.ScratchPadWindow, want.Resources.ScratchPadWindow)
	}
	if got.Ordinals.DB.Database != want.Ordinals.DB.Database {
		t.Fatalf("ordinals db name = %q, want %q", got.Ordinals.DB.Database, want.Ordinals.DB.Database)
	}
	if got.Ordinals.MetaProtocols.Brc20.LRUCacheSize != want.Ordinals.MetaProtocols.Brc20.LRUCacheSize {
		t.Fatalf("brc20 lru cache size = %d, want %d", got.Ordinals.MetaProtocols.Brc20.LRUCacheSize, want.Ordinals.MetaProtocols.Brc20.LRUCacheSize)
	}
}

func TestDatabaseDSNs(t *testing.T) {
	d := Database{Database: "ordinals", Host: "localhost", Port: 5432, Username: "u", Password: "p", PoolMaxSize: 10}

	dsn := d.DSN()
	if !strings.Contains(dsn, "pool_max_conns=10") {
		t.Fatalf("DSN() = %q, want pool_max_conns=10", dsn)
	}
	if strings.Contains(dsn, "sslmode") {
		t.Fatalf("DSN() = %q, didn't expect sslmode", dsn)
	}

	migrateDSN := d.MigrateDSN()
	if strings.Contains(migrateDSN, "pool_max_conns") {
		t.Fatalf("MigrateDSN() = %q, shouldn't carry pool_max_conns", migrateDSN)
	}
	if !strings.Contains(migrateDSN, "sslmode=disable") {
		t.Fatalf("MigrateDSN() = %q, want sslmode=disable", migrateDSN)
	}
}
