// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package main is the keystone command: the credential service and its
// maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
