package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dropDatabas3/signroll/internal/config"
	"github.com/dropDatabas3/signroll/internal/export"
	"github.com/dropDatabas3/signroll/internal/keys"
	"github.com/dropDatabas3/signroll/internal/ledger"
	"github.com/dropDatabas3/signroll/internal/metrics"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
	"github.com/dropDatabas3/signroll/internal/signing"
	"github.com/dropDatabas3/signroll/internal/store"
	"github.com/dropDatabas3/signroll/internal/util"

	// adapters registrados vía init()
	_ "github.com/dropDatabas3/signroll/internal/store/adapters/fs"
	_ "github.com/dropDatabas3/signroll/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/signroll/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/signroll/internal/store/adapters/redis"
)

// app agrupa las dependencias armadas a partir de la config.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry

	stores   *store.Stores
	keys     *keys.KeyStore
	signer   *signing.Signer
	ledger   *ledger.Service
	exporter *export.Builder
	sink     export.DirSink
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.SignTimeout()
	if err != nil {
		return nil, err
	}
	exportLoc, err := cfg.ExportLocation()
	if err != nil {
		return nil, err
	}
	recordsLoc, err := cfg.RecordsLocation()
	if err != nil {
		return nil, err
	}

	rs, ks := cfg.RecordsStore(), cfg.KeysStore()
	stores, err := store.OpenStores(ctx, rs, ks)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Debug("stores opened",
		logger.Driver(rs.Name), zap.String("dsn", util.MaskDSN(rs.DSN)),
		zap.String("keys_driver", ks.Name), zap.String("keys_dsn", util.MaskDSN(ks.DSN)))

	keyStore := keys.NewKeyStore(stores.Keys(), keys.Options{
		MasterKey: cfg.Keys.MasterKey,
		CacheTTL:  ttl,
		Logger:    log.Named("keys"),
	})
	signer := signing.NewSigner(keyStore)
	recordSigner := ledger.NewRecordSigner(signer, ledger.RecordSignerOptions{
		Timeout: timeout,
		Logger:  log.Named("ledger"),
	})

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		stores:   stores,
		keys:     keyStore,
		signer:   signer,
		ledger: ledger.NewService(stores.Users(), recordSigner, ledger.Options{
			TimeLayout: cfg.Records.TimeLayout,
			Location:   recordsLoc,
			Logger:     log.Named("ledger"),
		}),
		exporter: export.NewBuilder(signer, export.Options{
			ExportedBy:  cfg.Export.ExportedBy,
			LocalLayout: cfg.Export.LocalLayout,
			Location:    exportLoc,
			Logger:      log.Named("export"),
		}),
		sink: export.DirSink{Dir: cfg.Export.Dir},
	}, nil
}

// Close cierra stores y, si se pidió, vuelca las métricas a un textfile.
func (a *app) Close(metricsFile string) error {
	var errs []error
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := a.stores.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
