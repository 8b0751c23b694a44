package acl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"diskbrowser/internal/storage"
	"diskbrowser/pkg/types"
)

// StaticRules is a rule table held in memory, usually from the config file.
type StaticRules []types.ACLRule

func (s StaticRules) Rules(context.Context) ([]types.ACLRule, error) {
	return append([]types.ACLRule(nil), s...), nil
}

// BadgerRules reads the rule table persisted in a badger store.
type BadgerRules struct {
	Store *storage.PersistentStore
}

func (b BadgerRules) Rules(context.Context) ([]types.ACLRule, error) {
	return b.Store.GetACLRules()
}

// PostgresRules reads rules from the acl_rules table, ordered by position:
//
//	CREATE TABLE acl_rules (
//	    position INTEGER PRIMARY KEY,
//	    disk     TEXT NOT NULL,
//	    path     TEXT NOT NULL,
//	    access   SMALLINT NOT NULL CHECK (access BETWEEN 0 AND 2)
//	);
type PostgresRules struct {
	db *sql.DB
}

// OpenPostgresRules connects to databaseURL and checks the connection.
func OpenPostgresRules(ctx context.Context, databaseURL string) (*PostgresRules, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres acl source needs a dsn")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresRules(db), nil
}

// NewPostgresRules uses an open database handle.
func NewPostgresRules(db *sql.DB) *PostgresRules {
	return &PostgresRules{db: db}
}

func (p *PostgresRules) Rules(ctx context.Context) ([]types.ACLRule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT disk, path, access FROM acl_rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query acl rules: %w", err)
	}
	defer rows.Close()

	var rules []types.ACLRule
	for rows.Next() {
		var rule types.ACLRule
		if err := rows.Scan(&rule.Disk, &rule.Path, &rule.Access); err != nil {
			return nil, fmt.Errorf("scan acl rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acl rules: %w", err)
	}
	return rules, nil
}

// Migrate creates the acl_rules table when missing.
func (p *PostgresRules) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS acl_rules (
		position INTEGER PRIMARY KEY,
		disk     TEXT NOT NULL,
		path     TEXT NOT NULL,
		access   SMALLINT NOT NULL CHECK (access BETWEEN 0 AND 2)
	)`)
	if err != nil {
		return fmt.Errorf("create acl_rules: %w", err)
	}
	return nil
}

// Replace swaps the whole table for rules in one transaction.
func (p *PostgresRules) Replace(ctx context.Context, rules []types.ACLRule) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM acl_rules`); err != nil {
		return fmt.Errorf("clear acl_rules: %w", err)
	}
	for i, rule := range rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO acl_rules (position, disk, path, access) VALUES ($1, $2, $3, $4)`,
			i, rule.Disk, rule.Path, rule.Access); err != nil {
			return fmt.Errorf("insert acl rule %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresRules) Close() error {
	return p.db.Close()
}
