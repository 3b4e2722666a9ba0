// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package migrate applies the SQL migrations under migrations/ordinals
// and migrations/brc20 (spec.md §6), following the teacher's own
// golang-migrate/migrate/v4 convention (daglabs-btcd/apiserver/main.go
// blank-imports the migrate database driver and the file source driver
// the same way this package does).
package migrate

import (
	"database/sql"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/hirosystems/ordhookd/internal/logs"
)

var log = logs.Subsystem("MIGR")

// Up applies every pending migration in dir (a "migrations/..." directory)
// against dsn, identifying the target schema as name in log output.
func Up(dsn, dir, name string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrapf(err, "migrate %s: opening connection", name)
	}
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return errors.Wrapf(err, "migrate %s: building driver", name)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, name, driver)
	if err != nil {
		return errors.Wrapf(err, "migrate %s: building migrator", name)
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Infof("%s: schema already up to date", name)
			return nil
		}
		return errors.Wrapf(err, "migrate %s: applying migrations", name)
	}
	log.Infof("%s: migrations applied", name)
	return nil
}
