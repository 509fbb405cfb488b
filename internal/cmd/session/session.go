// Package session parses session command flags and starts the session engine.
package session

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/louisbranch/chartdetectives/internal/game/app"
	"github.com/louisbranch/chartdetectives/internal/game/scoring"
	"github.com/louisbranch/chartdetectives/internal/game/service"
	"github.com/louisbranch/chartdetectives/internal/game/storage/sqlite"
	entrypoint "github.com/louisbranch/chartdetectives/internal/platform/cmd"
	"github.com/louisbranch/chartdetectives/internal/telemetry"
)

// Config holds session command configuration.
type Config struct {
	Port   int    `env:"CHART_DETECTIVES_SESSION_PORT" envDefault:"8080"`
	Addr   string `env:"CHART_DETECTIVES_SESSION_ADDR"`
	DBPath string `env:"CHART_DETECTIVES_SESSION_DB_PATH" envDefault:"data/sessions.db"`
	// WriteMode selects LAST_WINS or VERSIONED whole-session replacement.
	WriteMode string `env:"CHART_DETECTIVES_SESSION_WRITE_MODE" envDefault:"LAST_WINS"`

	ModelURL        string `env:"CHART_DETECTIVES_MODEL_URL"`
	Model           string `env:"CHART_DETECTIVES_MODEL" envDefault:"gpt-5-mini"`
	ModelCredential string `env:"CHART_DETECTIVES_MODEL_CREDENTIAL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The session server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The session server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The session database path")
	fs.StringVar(&cfg.WriteMode, "write-mode", cfg.WriteMode, "Whole-session write mode: LAST_WINS or VERSIONED")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func openSessionStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session sqlite store: %w", err)
	}
	return store, nil
}

func writeMode(raw string) (service.WriteMode, error) {
	switch service.WriteMode(raw) {
	case service.WriteModeLastWins, service.WriteModeVersioned:
		return service.WriteMode(raw), nil
	default:
		return "", fmt.Errorf("unknown write mode %q", raw)
	}
}

// Run starts the session engine service.
func Run(ctx context.Context, cfg Config) error {
	mode, err := writeMode(cfg.WriteMode)
	if err != nil {
		return err
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSession, func(ctx context.Context) error {
		store, err := openSessionStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		var collaborator scoring.Collaborator
		if cfg.ModelCredential != "" {
			openai, err := scoring.NewOpenAICollaborator(scoring.OpenAIConfig{
				ResponsesURL:     cfg.ModelURL,
				Model:            cfg.Model,
				CredentialSecret: cfg.ModelCredential,
			})
			if err != nil {
				return fmt.Errorf("configure collaborator: %w", err)
			}
			collaborator = openai
		} else {
			log.Printf("no model credential configured; drafting, evaluation, and judging are disabled")
		}

		svc, err := service.New(service.Config{
			Store:        store,
			Collaborator: collaborator,
			Emitter:      telemetry.NewEmitter(store),
			WriteMode:    mode,
		})
		if err != nil {
			return err
		}

		handler := app.Handler(svc, store)
		if cfg.Addr != "" {
			srv, err := app.NewWithAddr(cfg.Addr, handler)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		}
		return app.Run(ctx, cfg.Port, handler)
	})
}
