package permission

import "github.com/google/uuid"

// dangerousCommands never get an "always allow" suggestion. Deny rules for
// these names must still match in Check.
var dangerousCommands = map[string]struct{}{
	"rm": {}, "rmdir": {}, "sudo": {}, "su": {}, "curl": {}, "wget": {},
	"pip": {}, "npm": {}, "brew": {}, "kill": {}, "killall": {}, "pkill": {},
	"dd": {}, "mkfs": {}, "chmod": {}, "chown": {}, "shutdown": {},
}

type ruleSeed struct {
	tool, matchType, pattern, action string
}

var defaultSeeds = []ruleSeed{
	// Safe file-editing tools on markdown files
	{"Write", MatchGlob, "**/*.md", ActionAllow},
	{"Edit", MatchGlob, "**/*.md", ActionAllow},
	{"MultiEdit", MatchGlob, "**/*.md", ActionAllow},
	// Common read-only / safe shell commands
	{"Bash", MatchPrefix, "grep", ActionAllow},
	{"Bash", MatchPrefix, "git", ActionAllow},
	{"Bash", MatchPrefix, "ls", ActionAllow},
	{"Bash", MatchPrefix, "find", ActionAllow},
	{"Bash", MatchPrefix, "cat", ActionAllow},
	{"Bash", MatchPrefix, "wc", ActionAllow},
	{"Bash", MatchPrefix, "head", ActionAllow},
	{"Bash", MatchPrefix, "tail", ActionAllow},
	{"Bash", MatchPrefix, "echo", ActionAllow},
	{"Bash", MatchPrefix, "pwd", ActionAllow},
	{"Bash", MatchPrefix, "python", ActionAllow},
	{"Bash", MatchPrefix, "sort", ActionAllow},
	{"Bash", MatchPrefix, "uniq", ActionAllow},
	{"Bash", MatchPrefix, "diff", ActionAllow},
	// Dangerous shell commands
	{"Bash", MatchPrefix, "rm", ActionDeny},
	{"Bash", MatchPrefix, "rmdir", ActionDeny},
	{"Bash", MatchPrefix, "sudo", ActionDeny},
	{"Bash", MatchPrefix, "su", ActionDeny},
	{"Bash", MatchPrefix, "curl", ActionDeny},
	{"Bash", MatchPrefix, "wget", ActionDeny},
	{"Bash", MatchPrefix, "pip", ActionDeny},
	{"Bash", MatchPrefix, "npm", ActionDeny},
	{"Bash", MatchPrefix, "brew", ActionDeny},
	{"Bash", MatchPrefix, "kill", ActionDeny},
	{"Bash", MatchPrefix, "killall", ActionDeny},
	{"Bash", MatchPrefix, "dd", ActionDeny},
	{"Bash", MatchPrefix, "chmod", ActionDeny},
	{"Bash", MatchPrefix, "chown", ActionDeny},
}

// defaultRules returns the seed rule set with fresh ids.
func defaultRules() []Rule {
	rules := make([]Rule, 0, len(defaultSeeds))
	for _, s := range defaultSeeds {
		rules = append(rules, Rule{
			ID:        uuid.New().String(),
			Tool:      s.tool,
			MatchType: s.matchType,
			Pattern:   s.pattern,
			Action:    s.action,
		})
	}
	return rules
}
