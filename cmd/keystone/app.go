// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keystone-commerce/keystone/internal/auth"
	"github.com/keystone-commerce/keystone/internal/auth/memstore"
	"github.com/keystone-commerce/keystone/internal/auth/postgres"
	"github.com/keystone-commerce/keystone/internal/auth/redisstore"
	"github.com/keystone-commerce/keystone/internal/config"
	"github.com/keystone-commerce/keystone/internal/notify"
	"github.com/keystone-commerce/keystone/internal/observability"
	"github.com/keystone-commerce/keystone/internal/store"
)

// app is the wired service graph shared by serve and purge-resets.
type app struct {
	coordinator *auth.Coordinator
	dispatcher  *notify.Dispatcher
	readiness   map[string]observability.ReadinessCheck

	closers []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// buildApp wires stores, notification, tokens, and the coordinator from
// cfg. metrics may be nil.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.AuthMetrics) (_ *app, err error) {
	a := &app{readiness: make(map[string]observability.ReadinessCheck)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	users, resets, err := a.openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	dispatchOpts := []notify.Option{notify.WithLogger(logger)}
	authOpts := []auth.Option{auth.WithLogger(logger)}
	if metrics != nil {
		dispatchOpts = append(dispatchOpts, notify.WithMetrics(metrics))
		authOpts = append(authOpts, auth.WithMetrics(metrics))
	}
	a.dispatcher = notify.NewDispatcher(notifier, notify.DispatcherConfig{
		QueueSize: cfg.Mail.QueueSize,
		Retries:   uint64(cfg.Mail.Retries), //nolint:gosec // validated non-negative
	}, dispatchOpts...)
	a.closers = append(a.closers, a.dispatcher.Close)

	issuer, err := auth.NewJWTIssuer(auth.JWTConfig{
		Secret:     []byte(cfg.Tokens.Secret),
		Issuer:     cfg.Tokens.Issuer,
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	manager, err := auth.NewResetTokenManager(users, resets, a.dispatcher, auth.ResetConfig{
		TTL:     cfg.Reset.TTL,
		BaseURL: cfg.Reset.BaseURL,
	}, authOpts...)
	if err != nil {
		return nil, err
	}

	a.coordinator, err = auth.NewCoordinator(users, issuer, manager, auth.NewArgon2idHasher(),
		auth.CoordinatorConfig{RotateRefresh: cfg.Tokens.RotateRefresh}, authOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.UserRepository, auth.ResetTokenRepository, error) {
	var (
		users  auth.UserRepository
		resets auth.ResetTokenRepository
	)

	if cfg.InMemory() {
		logger.Warn("using in-memory store; accounts are lost on exit")
		mem := memstore.New()
		users, resets = mem, mem
	} else {
		pool, err := store.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		a.readiness["database"] = pool.Ping
		users = postgres.NewUserRepository(pool)
		resets = postgres.NewResetTokenRepository(pool)
	}

	if cfg.Reset.Store == config.ResetStoreRedis {
		client, err := redisstore.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		resets = redisstore.NewResetTokenRepository(client)
	}
	return users, resets, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Mail.Transport {
	case config.MailTransportSMTP:
		n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.MailTransportLog:
		return notify.NewLogNotifier(nil, logger), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("key", "mail.transport").Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
}
