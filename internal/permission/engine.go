package permission

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Check evaluates a tool call against a rule set and returns a verdict.
// Deny rules are evaluated before allow rules across the whole set: an
// explicit deny always wins over an explicit allow for the same call.
func Check(rules []Rule, tool string, input map[string]any) string {
	for _, action := range []string{ActionDeny, ActionAllow} {
		for _, rule := range rules {
			if rule.Action != action {
				continue
			}
			if ruleMatches(rule, tool, input) {
				return action
			}
		}
	}
	return VerdictAsk
}

// Check evaluates a tool call against the store's current rules.
func (s *Store) Check(tool string, input map[string]any) string {
	return Check(s.List(), tool, input)
}

// SuggestPattern extracts the base command name from a shell command for
// use as an "always allow" prefix pattern. It reports ok=false for empty
// commands and for inherently destructive commands, so the UI never offers
// an always-allow shortcut for them.
func SuggestPattern(command string) (string, bool) {
	base := baseCommand(command)
	if base == "" {
		return "", false
	}
	if _, dangerous := dangerousCommands[base]; dangerous {
		return "", false
	}
	return base, true
}

// baseCommand returns the base name of the command's first token, or ""
// when the command has none.
func baseCommand(command string) string {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

func ruleMatches(rule Rule, tool string, input map[string]any) bool {
	if rule.Tool != tool {
		return false
	}

	switch rule.MatchType {
	case MatchGlob:
		path := stringField(input, "file_path")
		if path == "" {
			path = stringField(input, "path")
		}
		if path == "" {
			return false
		}
		g, err := glob.Compile(rule.Pattern, '/')
		if err != nil {
			return false
		}
		if g.Match(path) {
			return true
		}
		// Tolerate relative-vs-absolute path forms: patterns like **/src/**
		// should match relative paths like src/file.js.
		if !strings.HasPrefix(path, "/") {
			return g.Match("/" + path)
		}
		return false

	case MatchPrefix:
		// Base name extraction without the dangerous-command filter:
		// a deny rule for a dangerous command must still be matchable.
		return baseCommand(stringField(input, "command")) == rule.Pattern
	}

	return false
}

func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
