// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	rcon "github.com/schultz-is/rconmux"
)

func Instance() *cli.App {
	var (
		loglevel     = "info"
		host         = "127.0.0.1"
		port         = 27015
		password     string
		passwordFile string
		timeout      time.Duration
	)
	return &cli.App{
		Name:      "rcon",
		Usage:     "Execute commands on a Source RCON server",
		ArgsUsage: "[command ...]",
		Description: "Each argument is sent as one command, all of them concurrently over a single " +
			"connection. Without arguments, commands are read from stdin, one per line.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Aliases:     []string{"H"},
				Usage:       "Address of the RCON server",
				EnvVars:     []string{"RCON_HOST"},
				Destination: &host,
				Value:       host,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "Port of the RCON server",
				EnvVars:     []string{"RCON_PORT"},
				Destination: &port,
				Value:       port,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "RCON password",
				EnvVars:     []string{"RCON_PASSWORD"},
				Destination: &password,
			},
			&cli.StringFlag{
				Name:        "password-file",
				Usage:       "File holding the RCON password, used when --password is empty",
				EnvVars:     []string{"RCON_PASSWORD_FILE"},
				Destination: &passwordFile,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Limit on each round trip, zero waits forever",
				EnvVars:     []string{"RCON_TIMEOUT"},
				Destination: &timeout,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"RCON_LOG_LEVEL"},
				Destination: &loglevel,
				Value:       loglevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			level := pterm.LogLevelInfo
			switch strings.ToLower(loglevel) {
			case "debug":
				level = pterm.LogLevelDebug
			case "warn":
				level = pterm.LogLevelWarn
			case "error":
				level = pterm.LogLevelError
			}
			logger := pterm.DefaultLogger.WithLevel(level).WithWriter(ctx.App.ErrWriter).WithTime(true)
			slog.SetDefault(slog.New(pterm.NewSlogHandler(logger)))
			return nil
		},
		Action: func(ctx *cli.Context) error {
			pw, err := resolvePassword(password, passwordFile)
			if err != nil {
				return err
			}

			conn := rcon.NewConn(host, port, pw, rcon.ConnConfig{
				Timeout: timeout,
				Logger:  slog.Default(),
			})
			if err := conn.Connect(ctx.Context); err != nil {
				return err
			}
			defer conn.Disconnect()

			if ctx.NArg() > 0 {
				return execAll(ctx.Context, conn, ctx.Args().Slice(), ctx.App.Writer)
			}
			return execLines(ctx.Context, conn, ctx.App.Reader, ctx.App.Writer)
		},
	}
}

func Run(ctx context.Context, args []string) error {
	app := Instance()
	return app.RunContext(ctx, args)
}

func resolvePassword(password, file string) (string, error) {
	if password != "" || file == "" {
		return password, nil
	}
	path, err := homedir.Expand(file)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading password file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// execAll sends every command at once and prints the responses in argument order.
func execAll(ctx context.Context, conn *rcon.Conn, commands []string, out io.Writer) error {
	results := make([]string, len(commands))
	errs := make([]error, len(commands))

	var wg sync.WaitGroup
	for i, cmd := range commands {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = conn.Exec(ctx, cmd)
		}()
	}
	wg.Wait()

	for i, res := range results {
		if errs[i] != nil {
			errs[i] = fmt.Errorf("%q: %w", commands[i], errs[i])
			continue
		}
		fmt.Fprintln(out, strings.TrimRight(res, "\n"))
	}
	return errors.Join(errs...)
}

// execLines sends the commands read from in one at a time until in is exhausted.
func execLines(ctx context.Context, conn *rcon.Conn, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		res, err := conn.Exec(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%q: %w", cmd, err)
		}
		fmt.Fprintln(out, strings.TrimRight(res, "\n"))
	}
	return sc.Err()
}
