package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ktqueue/ktqueue/internal/client"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/tui"
	"github.com/ktqueue/ktqueue/pkg/config"
	"github.com/ktqueue/ktqueue/pkg/logging"
)

// tokenKey sits next to the username in the session file.
const tokenKey = "token"

func main() {
	if err := run(); err != nil {
		log.Fatalf("ktqctl failed: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConsole()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", cfg.Home, err)
	}

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := os.OpenFile(filepath.Join(cfg.Home, "ktqctl.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logging.WithLevel(logging.NewWithWriter(logFile, "ktqueue", "ktqctl", "console"), cfg.LogLevel)

	session, err := console.NewSession(console.NewFileStore(cfg.SessionFile(), console.UsernameKey))
	if err != nil {
		// The session starts anonymous; the identity check decides.
		logger.Warn().Err(err).Msg("load session")
	}

	tokens := console.NewFileStore(cfg.SessionFile(), tokenKey)
	token, err := tokens.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("load token")
	}

	api := client.New(cfg.Server, client.WithToken(token))
	model, err := tui.New(tui.Options{API: api, Session: session, Tokens: tokens, Logger: logger})
	if err != nil {
		return err
	}

	logger.Info().Str("server", cfg.Server).Msg("console started")
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
