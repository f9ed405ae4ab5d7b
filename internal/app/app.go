// Package app assembles the service's shared providers from configuration:
// job store, blob store, publisher and logger. Commands pull what they need
// from the App and Close tears everything down.
package app

import (
	"context"
	"fmt"

	psclient "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/logging"
	pubsubpub "github.com/linkvault/linkvault/internal/publisher/pubsub"
	gcsstore "github.com/linkvault/linkvault/internal/storage/gcs"
	localstore "github.com/linkvault/linkvault/internal/storage/local"
	memblob "github.com/linkvault/linkvault/internal/storage/memory"
	memstore "github.com/linkvault/linkvault/internal/store/memory"
	pgstore "github.com/linkvault/linkvault/internal/store/postgres"
)

// App holds the configured providers shared by all commands.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     capture.JobStore
	Blobs     capture.BlobStore
	Publisher capture.Publisher

	closers []func()
}

// New loads configuration and builds every provider it names.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.Config.DB.Provider {
	case "memory":
		a.Store = memstore.New()
	case "postgres":
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: int32(a.Config.DB.MaxOpenConns),
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("unknown db provider %q", a.Config.DB.Provider)
	}
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.Config.Storage.Provider {
	case "memory":
		a.Blobs = memblob.New()
	case "local":
		b, err := localstore.New(localstore.Config{BaseDir: a.Config.Storage.LocalRoot})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Blobs = b
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		b, err := gcsstore.New(client, gcsstore.Config{Bucket: a.Config.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Blobs = b
		a.closers = append(a.closers, func() { _ = client.Close() })
	default:
		return fmt.Errorf("unknown storage provider %q", a.Config.Storage.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.Config.Publisher.Provider {
	case "noop":
		// captures complete without a preservation trigger
		a.Publisher = nil
	case "pubsub":
		client, err := psclient.NewClient(ctx, a.Config.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		p, err := pubsubpub.New(client)
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("init publisher: %w", err)
		}
		a.Publisher = p
		a.closers = append(a.closers, func() { _ = client.Close() })
	default:
		return fmt.Errorf("unknown publisher provider %q", a.Config.Publisher.Provider)
	}
	return nil
}

// Close releases providers in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
