// Package cli wires the gateway, session and repositories into the cobra
// command tree of the pikapost client.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/luyichen/pikapost/internal/config"
	"github.com/luyichen/pikapost/internal/events"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/records"
	"github.com/luyichen/pikapost/internal/repositories/friends"
	"github.com/luyichen/pikapost/internal/repositories/postcards"
	"github.com/luyichen/pikapost/internal/repositories/profile"
	"github.com/luyichen/pikapost/internal/session"
	"github.com/luyichen/pikapost/internal/store"
	"github.com/luyichen/pikapost/internal/store/rest"
	"github.com/luyichen/pikapost/internal/store/s3blob"
	"github.com/luyichen/pikapost/internal/store/sqlgateway"
)

// App holds every long-lived component of one CLI invocation.
type App struct {
	Config   *config.Config
	Log      logging.Logger
	Gateway  store.Gateway
	Sessions *session.Manager
	Bus      *events.Bus

	Friends   friends.Repository
	Postcards postcards.Repository
	Records   *records.Reconciler
	Profile   *profile.Repository

	closers []func()
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewApp builds the full component graph for the configured backend mode.
// The caller must defer Close.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	a := &App{Config: cfg, Log: log}

	gw, err := a.buildGateway(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Gateway = gw

	a.Sessions = session.NewManager(ctx, gw, log)
	a.closers = append(a.closers, a.Sessions.Close)

	a.Bus = events.NewBus()

	a.Friends = friends.New(gw, a.Sessions, a.Bus, log)
	a.closers = append(a.closers, a.Friends.Close)

	a.Postcards = postcards.New(gw, a.Sessions, a.Friends, a.Bus, log)
	a.closers = append(a.closers, a.Postcards.Close)

	a.Records = records.NewReconciler(gw, a.Sessions, a.Bus, log)
	a.closers = append(a.closers, a.Records.Close)

	a.Profile = profile.New(gw, a.Sessions, log)
	a.closers = append(a.closers, a.Profile.Close)

	return a, nil
}

func (a *App) buildGateway(ctx context.Context, cfg *config.Config, log logging.Logger) (store.Gateway, error) {
	switch cfg.Mode {
	case config.ModeREST:
		return rest.New(cfg.RESTEndpoint, cfg.RESTAnonKey, cfg.TokenPath, log), nil

	case config.ModeSQL:
		dialect := sqlgateway.DialectSQLite
		if strings.HasPrefix(cfg.DatabaseDSN, "postgres://") || strings.HasPrefix(cfg.DatabaseDSN, "postgresql://") {
			dialect = sqlgateway.DialectPostgres
		}
		db, err := sqlgateway.Open(ctx, dialect, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })

		var blobs sqlgateway.BlobStore
		if cfg.S3Endpoint != "" {
			blobs, err = s3blob.New(ctx, s3blob.Config{
				Region:       cfg.S3Region,
				BaseEndpoint: cfg.S3Endpoint,
				AccessKey:    cfg.S3AccessKey,
				SecretKey:    cfg.S3SecretKey,
				PublicBase:   cfg.S3PublicBase,
			})
			if err != nil {
				return nil, err
			}
		} else {
			blobs = sqlgateway.NewLocalBlobStore(cfg.BlobDir, cfg.BlobBaseURL)
		}
		return sqlgateway.New(db, dialect, blobs, log), nil

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// Close releases components in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
