// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command ordhookd indexes the Bitcoin block stream into an Ordinals/
// Inscriptions index and a BRC-20 token-ledger index, per spec.md.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	if os.Getenv("ORDHOOK_MAINTENANCE") == "1" {
		log.Warnf("ORDHOOK_MAINTENANCE=1 set, suspending startup indefinitely")
		block := make(chan struct{})
		<-block
	}

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
