// Package permission manages persistent allow/deny rules for gated tool
// calls and evaluates them before an approval is surfaced to the user.
package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Match types for rules.
const (
	MatchGlob   = "glob"
	MatchPrefix = "prefix"
)

// Rule actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Verdicts returned by Engine.Check.
const (
	VerdictAllow = "allow"
	VerdictDeny  = "deny"
	VerdictAsk   = "ask"
)

var (
	// ErrRuleNotFound is returned when removing a rule id that does not exist.
	ErrRuleNotFound = errors.New("permission rule not found")
)

// Rule is a single persisted allow/deny rule.
type Rule struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	MatchType string `json:"match_type"` // glob, prefix
	Pattern   string `json:"pattern"`
	Action    string `json:"action"` // allow, deny
}

// rulesFile is the on-disk envelope.
type rulesFile struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Store loads, saves, and lists permission rules backed by a JSON file.
type Store struct {
	path   string
	logger *logger.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewStore creates a rule store backed by the given path. A missing or
// unreadable file seeds the default rule set.
func NewStore(path string, log *logger.Logger) *Store {
	s := &Store{
		path:   path,
		logger: log.WithFields(zap.String("component", "permission-store")),
	}
	s.load()
	return s
}

// List returns a copy of the current rule list.
func (s *Store) List() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Add validates, persists, and returns a new rule.
func (s *Store) Add(tool, matchType, pattern, action string) (Rule, error) {
	if matchType != MatchGlob && matchType != MatchPrefix {
		return Rule{}, fmt.Errorf("invalid match_type: %q", matchType)
	}
	if action != ActionAllow && action != ActionDeny {
		return Rule{}, fmt.Errorf("invalid action: %q", action)
	}
	rule := Rule{
		ID:        uuid.New().String(),
		Tool:      tool,
		MatchType: matchType,
		Pattern:   pattern,
		Action:    action,
	}

	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()

	s.save()
	return rule, nil
}

// Remove deletes a rule by id.
func (s *Store) Remove(ruleID string) error {
	s.mu.Lock()
	kept := s.rules[:0]
	found := false
	for _, r := range s.rules {
		if r.ID == ruleID {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	s.rules = kept
	s.mu.Unlock()

	if !found {
		return ErrRuleNotFound
	}
	s.save()
	return nil
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err == nil {
		var f rulesFile
		if jsonErr := json.Unmarshal(data, &f); jsonErr == nil {
			s.rules = f.Rules
			s.logger.Info("loaded permission rules",
				zap.Int("count", len(s.rules)),
				zap.String("path", s.path))
			return
		}
		s.logger.Warn("failed to parse permission rules, seeding defaults",
			zap.String("path", s.path))
	}

	// First run or corrupt file: seed defaults.
	s.rules = defaultRules()
	s.save()
	s.logger.Info("seeded default permission rules",
		zap.Int("count", len(s.rules)),
		zap.String("path", s.path))
}

func (s *Store) save() {
	s.mu.RLock()
	f := rulesFile{Version: 1, Rules: s.rules}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal permission rules", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		s.logger.Error("failed to save permission rules", zap.Error(err))
	}
}
