package policy

// ToolGroups defines named groups of tools for easier policy configuration.
// Group names use the "group:" prefix to distinguish them from tool names.
// Unlike the teacher's multi-channel bot-gateway tool vocabulary (messaging,
// browser/canvas UI automation, cron/gateway scheduling, session spawning),
// this module's registered tool surface is the coding-agent set built in
// cmd/agentcore: read, write, edit, apply_patch, shell, process,
// provider_usage (internal/tools/files, internal/tools/exec,
// internal/tools/system).
var ToolGroups = map[string][]string{
	// Runtime/execution tools - run shell commands or manage subprocesses
	"group:runtime": {"shell", "process"},

	// Filesystem tools - read/write/modify files in the workspace
	"group:fs": {"read", "write", "edit", "apply_patch"},

	// System introspection tools - provider/usage status, no side effects
	"group:system": {"provider_usage"},

	// All built-in agentcore tools
	"group:agentcore": {
		// Filesystem
		"read", "write", "edit", "apply_patch",
		// Runtime
		"shell", "process",
		// System
		"provider_usage",
	},

	// Read-only tools - safe tools that don't modify state
	"group:readonly": {
		"read",
		"provider_usage",
	},
}

// ToolProfiles defines pre-configured tool sets for common use cases.
// These map profile names to policies with their allowed tool groups.
var ToolProfiles = map[string]*Policy{
	// Coding profile - full development capabilities: read/write the
	// workspace and run commands.
	"coding": {
		Profile: ProfileCoding,
		Allow: []string{
			"group:fs",
			"group:runtime",
			"group:system",
		},
	},

	// Readonly profile - observation only, no modifications
	// For agents that need to read and analyze but not change anything
	"readonly": {
		Allow: []string{
			"group:readonly",
		},
	},

	// Full profile - everything allowed (except explicit denies)
	"full": {
		Profile: ProfileFull,
	},

	// Minimal profile - just provider/usage status checks
	"minimal": {
		Profile: ProfileMinimal,
		Allow:   []string{"provider_usage"},
	},
}

// ExpandGroups expands group references in a tool list to their constituent tools.
// It handles:
//   - Group references (e.g., "group:fs" -> ["read", "write", "edit", "apply_patch"])
//   - Direct tool names (passed through unchanged)
//   - Deduplication of results
//
// Example:
//
//	ExpandGroups([]string{"group:fs", "provider_usage"})
//	// Returns: ["read", "write", "edit", "apply_patch", "provider_usage"]
func ExpandGroups(items []string) []string {
	var result []string
	seen := make(map[string]bool)

	for _, item := range items {
		// Check if it's a group reference
		if tools, ok := ToolGroups[item]; ok {
			for _, tool := range tools {
				if !seen[tool] {
					seen[tool] = true
					result = append(result, tool)
				}
			}
			continue
		}

		// Regular tool name
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}

	return result
}

// GetProfilePolicy returns the policy for a named profile.
// Returns nil if the profile doesn't exist.
func GetProfilePolicy(name string) *Policy {
	return ToolProfiles[name]
}

// ListGroups returns all available group names.
func ListGroups() []string {
	groups := make([]string, 0, len(ToolGroups))
	for name := range ToolGroups {
		groups = append(groups, name)
	}
	return groups
}

// ListProfiles returns all available profile names.
func ListProfiles() []string {
	profiles := make([]string, 0, len(ToolProfiles))
	for name := range ToolProfiles {
		profiles = append(profiles, name)
	}
	return profiles
}

// IsGroup returns true if the name is a valid group reference.
func IsGroup(name string) bool {
	_, ok := ToolGroups[name]
	return ok
}

// GetGroupTools returns the tools in a group, or nil if the group doesn't exist.
func GetGroupTools(name string) []string {
	tools, ok := ToolGroups[name]
	if !ok {
		return nil
	}
	// Return a copy to prevent modification
	result := make([]string, len(tools))
	copy(result, tools)
	return result
}

// init ensures ToolGroups is synchronized with DefaultGroups
func init() {
	// Copy ToolGroups to DefaultGroups for backwards compatibility
	for name, tools := range ToolGroups {
		DefaultGroups[name] = tools
	}
}
