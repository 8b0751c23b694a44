package acl

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"diskbrowser/pkg/types"
)

// Strategy picks the level for paths no rule matches.
type Strategy string

const (
	// StrategyBlacklist grants read/write unless a rule says otherwise.
	StrategyBlacklist Strategy = "blacklist"
	// StrategyWhitelist denies access unless a rule grants it.
	StrategyWhitelist Strategy = "whitelist"
)

func (s Strategy) defaultLevel() Level {
	if s == StrategyWhitelist {
		return LevelNone
	}
	return LevelReadWrite
}

// RuleSource loads the ordered rule table.
type RuleSource interface {
	Rules(ctx context.Context) ([]types.ACLRule, error)
}

// RuleResolver evaluates a rule table: the first rule whose disk matches
// and whose doublestar pattern matches the path wins.
type RuleResolver struct {
	source   RuleSource
	strategy Strategy

	mu    sync.RWMutex
	rules []types.ACLRule
}

// NewRuleResolver loads the rules from source and validates them.
func NewRuleResolver(ctx context.Context, source RuleSource, strategy Strategy) (*RuleResolver, error) {
	switch strategy {
	case StrategyBlacklist, StrategyWhitelist:
	case "":
		strategy = StrategyBlacklist
	default:
		return nil, fmt.Errorf("unknown acl strategy: %q", strategy)
	}

	r := &RuleResolver{source: source, strategy: strategy}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the rule table with a fresh copy from the source.
func (r *RuleResolver) Reload(ctx context.Context) error {
	rules, err := r.source.Rules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load acl rules: %w", err)
	}

	for i, rule := range rules {
		if rule.Access < int(LevelNone) || rule.Access > int(LevelReadWrite) {
			return fmt.Errorf("acl rule %d: access %d out of range", i, rule.Access)
		}
		rules[i].Path = normalizePattern(rule.Path)
		if !doublestar.ValidatePattern(rules[i].Path) {
			return fmt.Errorf("acl rule %d: invalid pattern %q", i, rule.Path)
		}
	}

	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	return nil
}

func normalizePattern(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	return p
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "/")), "/")
	if p == "" {
		return "."
	}
	return p
}

func (r *RuleResolver) AccessLevel(_ context.Context, disk, p string) (Level, error) {
	target := normalizePath(p)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if rule.Disk != disk {
			continue
		}
		// patterns are validated on load, so Match cannot fail here
		if ok, _ := doublestar.Match(rule.Path, target); ok {
			return Level(rule.Access), nil
		}
	}
	return r.strategy.defaultLevel(), nil
}

// Rules returns a copy of the loaded table.
func (r *RuleResolver) Rules() []types.ACLRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.ACLRule(nil), r.rules...)
}
