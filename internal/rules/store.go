// Package rules implements the versioned waterfall configuration store.
// Every mutation allocates a new immutable snapshot; historical versions
// are retained indefinitely so replays can bind to the exact configuration
// a past run used.
package rules

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/model"
)

// ErrUnknownField is returned when a field has no configured rule.
var ErrUnknownField = eris.New("rules: unknown field")

// ErrUnknownVersion is returned when a snapshot version was never allocated.
var ErrUnknownVersion = eris.New("rules: unknown config version")

// Persistence is the slice of the backing store the rule store needs.
type Persistence interface {
	SaveRuleSet(ctx context.Context, set model.RuleSet) error
	GetRuleSet(ctx context.Context, version int64) (*model.RuleSet, error)
	LatestRuleSet(ctx context.Context) (*model.RuleSet, error)
}

// Store serves waterfall rules. Reads are concurrent; a single writer
// bumps versions under the write lock. An in-flight run binds to one
// version for its lifetime, so edits never affect it.
type Store struct {
	mu      sync.RWMutex
	persist Persistence
	current model.RuleSet
}

// NewStore loads the latest persisted rule set, or starts empty at
// version 0 when none exists yet.
func NewStore(ctx context.Context, persist Persistence) (*Store, error) {
	latest, err := persist.LatestRuleSet(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "rules: load latest rule set")
	}
	s := &Store{persist: persist}
	if latest != nil {
		s.current = *latest
	} else {
		s.current = model.RuleSet{Rules: map[model.FieldName]model.WaterfallRule{}}
	}
	return s, nil
}

// GetRule returns the rule for a field. Version 0 means the current
// snapshot; any other version is served from the retained history.
func (s *Store) GetRule(ctx context.Context, field model.FieldName, version int64) (model.WaterfallRule, error) {
	set, err := s.GetSet(ctx, version)
	if err != nil {
		return model.WaterfallRule{}, err
	}
	rule, ok := set.Rules[field]
	if !ok {
		return model.WaterfallRule{}, eris.Wrapf(ErrUnknownField, "%s (version %d)", field, set.Version)
	}
	return rule, nil
}

// GetSet returns a full rule snapshot. Version 0 means current.
func (s *Store) GetSet(ctx context.Context, version int64) (model.RuleSet, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if version == 0 || version == current.Version {
		return current, nil
	}

	set, err := s.persist.GetRuleSet(ctx, version)
	if err != nil {
		return model.RuleSet{}, eris.Wrapf(err, "rules: load version %d", version)
	}
	if set == nil {
		return model.RuleSet{}, eris.Wrapf(ErrUnknownVersion, "%d", version)
	}
	return *set, nil
}

// UpdateRule validates and installs a rule for one field, allocating and
// persisting a new snapshot version. The previous version is untouched.
func (s *Store) UpdateRule(ctx context.Context, field model.FieldName, rule model.WaterfallRule) (int64, error) {
	rule.Field = field
	if err := rule.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneRules(s.current.Rules)
	next[field] = rule
	return s.installLocked(ctx, next)
}

// Seed atomically replaces the whole rule set (e.g. from a YAML seed file)
// as one new version.
func (s *Store) Seed(ctx context.Context, ruleset map[model.FieldName]model.WaterfallRule) (int64, error) {
	for field, rule := range ruleset {
		rule.Field = field
		if err := rule.Validate(); err != nil {
			return 0, err
		}
		ruleset[field] = rule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installLocked(ctx, cloneRules(ruleset))
}

// Snapshot returns the version capturing all current rules. Updates persist
// eagerly, so this is the current version id.
func (s *Store) Snapshot(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.current.Rules) == 0 {
		return 0, eris.Wrap(ErrUnknownField, "no rules configured")
	}
	return s.current.Version, nil
}

// Fields returns the fields with a rule in the current snapshot.
func (s *Store) Fields() []model.FieldName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Fields()
}

func (s *Store) installLocked(ctx context.Context, rules map[model.FieldName]model.WaterfallRule) (int64, error) {
	set := model.RuleSet{
		Version:   s.current.Version + 1,
		Rules:     rules,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.persist.SaveRuleSet(ctx, set); err != nil {
		return 0, eris.Wrapf(err, "rules: persist version %d", set.Version)
	}
	s.current = set
	zap.L().Info("rules: new config version",
		zap.Int64("version", set.Version),
		zap.Int("fields", len(set.Rules)),
	)
	return set.Version, nil
}

func cloneRules(in map[model.FieldName]model.WaterfallRule) map[model.FieldName]model.WaterfallRule {
	out := make(map[model.FieldName]model.WaterfallRule, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
