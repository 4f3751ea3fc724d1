// main.go - Application daemon for the confidential ledger.
//
// zkledgerd runs the application side of the node: it opens the durable
// state, loads the Groth16 verifying keys, and serves the ABCI socket a
// consensus engine connects to. A small HTTP listener exposes health and
// metrics. The consensus engine itself runs as a separate process.
//
// Usage:
//   zkledgerd -config config.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"zkledger/internal/abci"
	"zkledger/internal/proof"
	"zkledger/internal/store"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("daemon failed")
		os.Exit(1)
	}
}

func run(cfg *Config, log zerolog.Logger) error {
	if cfg.SetupKeys {
		log.Info().Str("dir", cfg.KeyDir).Msg("running key setup for missing circuits")
		if err := proof.Setup(cfg.KeyDir); err != nil {
			return fmt.Errorf("key setup: %w", err)
		}
	}
	verifier, err := proof.NewGroth16Verifier(cfg.KeyDir)
	if err != nil {
		return fmt.Errorf("loading verifying keys: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	app, err := abci.NewApplication(st, verifier, log)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	server, err := abci.NewServer(app, cfg.ListenAddress)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()
	log.Info().Str("address", cfg.ListenAddress).Msg("abci server listening")

	if cfg.HTTPAddress != "" {
		go serveHTTP(cfg.HTTPAddress, app, st, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

// serveHTTP exposes health and metrics endpoints.
func serveHTTP(address string, app *abci.Application, st *store.Store, log zerolog.Logger) {
	health := NewHealthChecker(version)
	health.RegisterComponent("store", func() error {
		_, _, _, err := st.LastBlock()
		return err
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := health.CheckHealth()
		w.Header().Set("Content-Type", "application/json")
		if report.OverallStatus != Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(app.Metrics().Snapshot())
	})

	log.Info().Str("address", address).Msg("http listener started")
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error().Err(err).Msg("http listener stopped")
	}
}

// newLogger builds the daemon logger from config: console always, plus an
// optional log file.
func newLogger(cfg *Config) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	closeLog := func() {}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, file)
		closeLog = func() { file.Close() }
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return log, closeLog, nil
}
