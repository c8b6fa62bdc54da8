// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Command rcon executes commands on a Source RCON server.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/schultz-is/rconmux/cmd/rcon/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := app.Run(ctx, os.Args)
	if err != nil {
		slog.Error("Application failed", "err", err)
		log.Fatal("abort")
	}
}
