package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"diskbrowser/internal/acl"
	"diskbrowser/internal/config"
	"diskbrowser/internal/logging"
	"diskbrowser/internal/storage"
)

// buildResolver opens the configured rule source. When ACL is disabled no
// resolver is built. Rules from the config file seed a badger or postgres
// source; without config rules the stored table is used as is.
func buildResolver(ctx context.Context, cfg config.ACLConfig) (acl.Resolver, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	var (
		source  acl.RuleSource
		cleanup = noop
	)

	switch cfg.Source {
	case "config":
		source = acl.StaticRules(cfg.Rules)

	case "badger":
		store, err := storage.New(cfg.DataDir)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open acl store: %w", err)
		}
		if len(cfg.Rules) > 0 {
			if err := store.SetACLRules(cfg.Rules); err != nil {
				store.Close()
				return nil, noop, fmt.Errorf("failed to seed acl store: %w", err)
			}
		}
		source = acl.BadgerRules{Store: store}
		cleanup = func() {
			if err := store.Close(); err != nil {
				logging.Warn("failed to close acl store", zap.Error(err))
			}
		}

	case "postgres":
		pg, err := acl.OpenPostgresRules(ctx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, noop, err
		}
		if len(cfg.Rules) > 0 {
			if err := pg.Replace(ctx, cfg.Rules); err != nil {
				pg.Close()
				return nil, noop, fmt.Errorf("failed to seed acl table: %w", err)
			}
		}
		source = pg
		cleanup = func() {
			if err := pg.Close(); err != nil {
				logging.Warn("failed to close acl database", zap.Error(err))
			}
		}

	default:
		return nil, noop, fmt.Errorf("unknown acl source: %q", cfg.Source)
	}

	resolver, err := acl.NewRuleResolver(ctx, source, acl.Strategy(cfg.Strategy))
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	logging.Debug("acl rules loaded",
		zap.String("source", cfg.Source), zap.String("strategy", cfg.Strategy), zap.Int("rules", len(resolver.Rules())))
	return resolver, cleanup, nil
}
