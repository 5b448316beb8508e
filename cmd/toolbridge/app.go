package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"toolbridge/internal/adapter/httpexec"
	"toolbridge/internal/adapter/openapi"
	"toolbridge/internal/domain"
	"toolbridge/internal/infra/audit"
	"toolbridge/internal/infra/config"
	"toolbridge/internal/infra/logger"
	"toolbridge/internal/infra/metrics"
	"toolbridge/internal/infra/tracer"
	"toolbridge/internal/usecase/catalog"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Provider
	validator *openapi.Validator
	engine    *httpexec.Engine
	catalog   *catalog.Service

	closers []func(context.Context) error
}

// newApp loads the config and compiles the tool catalog.
func newApp(ctx context.Context, o *rootOptions) (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}

	a := &app{cfg: cfg}

	if cfg.Logger.Output == "" || cfg.Logger.Output == "stderr" {
		a.logger = logger.NewWithWriter(cfg.Logger, o.err)
	} else {
		log, closeLog, err := logger.New(cfg.Logger)
		if err != nil {
			return nil, err
		}
		a.logger = log
		a.closers = append(a.closers, func(context.Context) error { return closeLog() })
	}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer, tracer.Options{ServiceVersion: version, Writer: o.err})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("setup tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	a.metrics = metrics.NewDefault()

	a.validator, err = openapi.NewValidator(a.logger, openapi.DefaultValidatorCapacity)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.validator.Close()
		return nil
	})

	a.engine = httpexec.New(httpexec.ConfigFrom(cfg.Target), a.logger, httpexec.WithMetrics(a.metrics))

	compiler := openapi.NewCompiler(a.logger)
	source := func(ctx context.Context) ([]domain.ToolDefinition, error) {
		doc, err := openapi.Load(ctx, cfg.OpenAPI.Source, cfg.OpenAPI.Strict)
		if err != nil {
			return nil, err
		}
		return compiler.Compile(ctx, doc)
	}

	defs, err := source(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var auditor domain.AuditLogger
	if cfg.Audit.Enabled {
		fl, err := openAudit(ctx, cfg.Audit, a.logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		auditor = fl
		a.closers = append(a.closers, func(context.Context) error { return fl.Close() })
	}

	a.catalog = catalog.NewService(catalog.ServiceDeps{
		Registry:  catalog.NewRegistry(defs),
		Validator: a.validator,
		Executor:  a.engine,
		Source:    source,
		Audit:     auditor,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	a.logger.Info("catalog compiled", "source", cfg.OpenAPI.Source, "tools", a.catalog.Registry().Len())
	return a, nil
}

// openAudit opens the audit trail and trims it to the retention policy.
func openAudit(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*audit.FileLogger, error) {
	maxSize, err := audit.ParseSize(cfg.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("audit.max_size: %w", err)
	}
	fl, err := audit.NewFileLogger(cfg.Path)
	if err != nil {
		return nil, err
	}
	fl.SetRetention(audit.RetentionPolicy{MaxAge: cfg.MaxAge, MaxSize: maxSize})
	removed, err := fl.EnforceRetention(ctx)
	if err != nil {
		log.Warn("audit retention failed", "path", cfg.Path, "error", err)
	} else if removed > 0 {
		log.Info("audit records expired", "path", cfg.Path, "removed", removed)
	}
	return fl, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp runs fn with a fully built app and closes it afterwards.
func withApp(ctx context.Context, o *rootOptions, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, o)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintf(o.err, "close: %v\n", cerr)
		}
	}()
	return fn(ctx, a)
}
