// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// foreman is the chat-driven coding agent daemon. It logs into the
// configured Matrix account, long-polls for room messages, and routes
// dot-commands through the bridge: project setup, task planning and
// execution, command approvals, and the admin shell.
//
// Configuration comes from a single YAML file, named by --config or
// the FOREMAN_CONFIG environment variable. Secrets can live in a
// sealed bundle (see foreman-credentials); the unsealing passphrase is
// read from FOREMAN_PASSPHRASE or prompted for on a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/foreman-chat/foreman/bridge"
	"github.com/foreman-chat/foreman/engine"
	"github.com/foreman-chat/foreman/lib/clock"
	"github.com/foreman-chat/foreman/lib/config"
	"github.com/foreman-chat/foreman/lib/llm"
	"github.com/foreman-chat/foreman/lib/process"
	"github.com/foreman-chat/foreman/lib/sealed"
	"github.com/foreman-chat/foreman/messaging"
	"github.com/foreman-chat/foreman/sandbox"
	"github.com/foreman-chat/foreman/state"
	"github.com/foreman-chat/foreman/tools"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var logLevel string

	flagSet := pflag.NewFlagSet("foreman", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to foreman.yaml (default: $FOREMAN_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := buildLogger(logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := unsealCredentials(cfg); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	projectsDir, err := filepath.Abs(cfg.System.ProjectsDir)
	if err != nil {
		return fmt.Errorf("resolving projects directory: %w", err)
	}
	cfg.System.ProjectsDir = projectsDir

	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return err
	}
	policy, err := sandbox.NewPolicy(projectsDir)
	if err != nil {
		return err
	}
	executor := tools.NewExecutor(policy, tools.Options{
		Timeout:     cfg.Commands.Timeouts.DefaultTimeout(),
		LongTimeout: cfg.Commands.Timeouts.LongTimeout(),
		LongRunning: cfg.Commands.Timeouts.LongCommands,
		Logger:      logger,
	})

	clk := clock.Real()
	eng := engine.New(engine.Options{
		Store:       store,
		Tools:       executor,
		Policy:      policy,
		Gates:       llm.NewGateSet(clk),
		Commands:    cfg.Commands,
		Clock:       clk,
		Logger:      logger,
		JournalDir:  cfg.JournalDir(),
		ActionDelay: time.Duration(cfg.System.ActionDelay) * time.Second,
	})

	router := bridge.New(bridge.Options{
		Config: cfg,
		Store:  store,
		Engine: eng,
		Tools:  executor,
		Policy: policy,
		Clock:  clk,
		Logger: logger,
		// Provider calls bound their own lifetime through the run
		// context; no global timeout here either, streaming-sized
		// completions routinely exceed one.
		HTTPClient: &http.Client{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	matrix := cfg.Services.Matrix
	client, err := messaging.Login(ctx, messaging.ClientConfig{
		HomeserverURL: matrix.Homeserver,
		DisplayName:   matrix.DisplayName,
		Logger:        logger,
	}, matrix.Username, matrix.Password)
	if err != nil {
		return err
	}
	logger.Info("logged in",
		"homeserver", matrix.Homeserver,
		"user", client.UserID())

	watcher := messaging.NewWatcher(client, clk)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Run(ctx)
	}()

	router.Serve(ctx, client, watcher.Events())

	logger.Info("shutting down, waiting for active runs")
	router.Wait()

	if err := <-watchErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// unsealCredentials overlays the sealed credentials bundle, when one
// is configured, onto the loaded config.
func unsealCredentials(cfg *config.Config) error {
	bundlePath := cfg.Services.Matrix.CredentialsFile
	if bundlePath == "" {
		return nil
	}
	armored, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("reading credentials bundle: %w", err)
	}
	passphrase, err := readPassphrase()
	if err != nil {
		return err
	}
	plaintext, err := sealed.Unseal(armored, passphrase)
	if err != nil {
		return fmt.Errorf("unsealing %s: %w", bundlePath, err)
	}
	return cfg.ApplyCredentials(plaintext)
}

// readPassphrase takes the unsealing passphrase from the environment
// when set, else prompts on the controlling terminal. Running headless
// with a sealed bundle and no FOREMAN_PASSPHRASE is an error.
func readPassphrase() (string, error) {
	if passphrase := os.Getenv("FOREMAN_PASSPHRASE"); passphrase != "" {
		return passphrase, nil
	}
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return "", fmt.Errorf("credentials bundle configured but FOREMAN_PASSPHRASE is not set and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	passphraseBytes, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(passphraseBytes), nil
}
