// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// nexus - a dual-verification chat front end for OpenRouter.
//
// Usage:
//
//	nexus                 launch the full-screen TUI
//	nexus chat [--plain]  line-oriented REPL chat
//	nexus serve [--addr]  run the HTTP surface
//	nexus login           store an OpenRouter API key
//	nexus version         print version information
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/reflexai/nexus/internal/admindb"
	"github.com/reflexai/nexus/internal/auth"
	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/cli"
	"github.com/reflexai/nexus/internal/cloud"
	"github.com/reflexai/nexus/internal/config"
	"github.com/reflexai/nexus/internal/credential"
	"github.com/reflexai/nexus/internal/pipeline"
	"github.com/reflexai/nexus/internal/server"
	"github.com/reflexai/nexus/internal/ui"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cmd := "tui"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "tui":
		err = runTUI(args)
	case "chat":
		err = runChat(args)
	case "serve":
		err = runServe(args)
	case "login":
		err = runLogin(args)
	case "version":
		fmt.Printf("nexus %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "nexus: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`nexus - dual-verification chat for OpenRouter

Commands:
  nexus                 launch the full-screen TUI (default)
  nexus chat            line-oriented REPL chat
  nexus serve           run the HTTP surface
  nexus login           store an OpenRouter API key
  nexus version         print version information

Run 'nexus <command> -h' for command flags.
`)
}

// =============================================================================
// SHARED WIRING
// =============================================================================

// app bundles the pieces every surface needs.
type app struct {
	cfg   config.Config
	store *chat.Store
	pipe  *pipeline.Pipeline
	db    *admindb.DB
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// buildApp loads configuration and the saved credential and wires the
// conversation store, completions client, usage recorder, and pipeline.
func buildApp(configPath string) (*app, error) {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	credPath, err := credential.DefaultPath()
	if err != nil {
		return nil, err
	}
	credStore := credential.NewStore(credPath)
	key, err := credStore.Load()
	if err != nil {
		return nil, err
	}
	store := chat.NewStoreWithCredential(key, func(value string) {
		if err := credStore.Save(value); err != nil {
			log.Printf("CREDENTIAL_SAVE_FAILED | error=%v", err)
		}
	})
	store.SetDualVerification(cfg.Chat.DualVerification)

	client := cloud.New(cloud.Config{
		BaseURL:           cfg.Cloud.BaseURL,
		Referer:           cfg.Cloud.Referer,
		Title:             cfg.Cloud.Title,
		Timeout:           time.Duration(cfg.Cloud.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Cloud.MaxRetries,
		RequestsPerMinute: cfg.Cloud.RequestsPerMinute,
	})

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	db, err := admindb.Open(dbPath)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(store, client, pipeline.Config{
		PrimaryModel:  cfg.Chat.PrimaryModel,
		VerifierModel: cfg.Chat.VerifierModel,
		SystemPrompt:  cfg.Chat.SystemPrompt,
	}, admindb.NewRecorder(db, ""))

	return &app{cfg: cfg, store: store, pipe: pipe, db: db}, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func runTUI(args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	return ui.Run(a.store, a.pipe)
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Bool("plain", true, "line-oriented output (always on for this command)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.NewREPL(a.store, a.pipe, os.Stdout).Run(ctx)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	listenAddr := a.cfg.Server.Addr
	if *addr != "" {
		listenAddr = *addr
	}
	if listenAddr == "" {
		listenAddr = server.DefaultAddr
	}

	timeout := time.Duration(a.cfg.Auth.SessionTimeoutSecs) * time.Second
	authMgr := auth.NewManager(a.db, timeout)
	authMgr.SetRequireAccessCode(a.cfg.Auth.RequireAccessCode)
	srv := server.New(listenAddr, a.store, a.pipe, a.db, authMgr)

	// Config edits take effect without a restart for the settings that
	// can change mid-flight.
	watchPath := *configPath
	if watchPath == "" {
		if p, err := config.DefaultPath(); err == nil {
			watchPath = p
		}
	}
	if watchPath != "" {
		watcher, err := config.NewWatcher(watchPath, func(cfg config.Config) {
			a.store.SetDualVerification(cfg.Chat.DualVerification)
			log.Printf("CONFIG_RELOADED | path=%s", watchPath)
		})
		if err == nil {
			if err := watcher.Start(); err == nil {
				defer watcher.Close()
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	log.Printf("SERVER_LISTENING | addr=%s", listenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	credPath, err := credential.DefaultPath()
	if err != nil {
		return err
	}

	fmt.Print("OpenRouter API key: ")
	var key string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = string(raw)
	} else {
		if _, err := fmt.Scanln(&key); err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("no key entered")
	}

	if err := credential.NewStore(credPath).Save(key); err != nil {
		return err
	}
	fmt.Printf("Saved %s to %s\n", cloud.KeyFingerprint(key), credPath)
	return nil
}
