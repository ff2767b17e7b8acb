package cli

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/heysubinoy/kvlite/internal/store"
	"github.com/heysubinoy/kvlite/pkg/config"
	"github.com/heysubinoy/kvlite/pkg/fsstore"
	"github.com/heysubinoy/kvlite/pkg/kv"
)

// app is the store stack one command runs against.
type app struct {
	cfg      *config.Config
	logger   hclog.Logger
	files    *fsstore.Store
	store    kv.Store
	registry *prometheus.Registry
}

func openApp(cfg *config.Config, logger hclog.Logger) (*app, error) {
	files, err := fsstore.Open(cfg.Root,
		fsstore.WithLogger(logger.Named("fsstore")),
		fsstore.WithSync(cfg.Sync),
		fsstore.WithCompression(cfg.CompressMinSize),
		fsstore.WithOrphanAge(cfg.OrphanAge),
	)
	if err != nil {
		return nil, err
	}

	var s kv.Store = files
	if cfg.CacheSize > 0 {
		cached, err := store.NewCachedStore(s, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		s = cached
	}

	registry := prometheus.NewRegistry()
	instrumented, err := store.NewInstrumentedStore(s, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	logger.Debug("opened store", "root", files.Root(), "cache_size", cfg.CacheSize)
	return &app{
		cfg:      cfg,
		logger:   logger,
		files:    files,
		store:    instrumented,
		registry: registry,
	}, nil
}

// close flushes metrics when a metrics file is configured.
func (a *app) close() error {
	if a.cfg.MetricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// withApp loads configuration, opens the store, runs fn and closes the store.
func (o *options) withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.close())
	}()
	return fn(a)
}
