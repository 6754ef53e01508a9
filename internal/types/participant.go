package types

// VersionStrategy governs resolver behavior when declared ranges conflict.
type VersionStrategy struct {
	Type            StrategyType `yaml:"type" json:"type"`
	FallbackVersion string       `yaml:"fallback_version,omitempty" json:"fallbackVersion,omitempty"`
}

type SharedPackageConfig struct {
	Singleton       bool   `yaml:"singleton" json:"singleton"`
	StrictVersion   bool   `yaml:"strict_version" json:"strictVersion"`
	RequiredVersion string `yaml:"required_version" json:"requiredVersion"`
	Version         string `yaml:"version" json:"version"`
	Eager           bool   `yaml:"eager" json:"eager"`
	ShareKey        string `yaml:"share_key,omitempty" json:"shareKey,omitempty"`
	ShareScope      string `yaml:"share_scope,omitempty" json:"shareScope,omitempty"`

	// Strategy overrides the strategy derived from StrictVersion.
	Strategy *VersionStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`

	// Import is the local entry file of the package copy this participant
	// ships. URL is where that copy is served once bundled.
	Import string `yaml:"import,omitempty" json:"-"`
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Key returns the share key, defaulting to the package name.
func (c SharedPackageConfig) Key(packageName string) string {
	if c.ShareKey != "" {
		return c.ShareKey
	}
	return packageName
}

// Scope returns the share scope, defaulting to DefaultShareScope.
func (c SharedPackageConfig) Scope() string {
	if c.ShareScope != "" {
		return c.ShareScope
	}
	return DefaultShareScope
}

type ParticipantDeclaration struct {
	Kind       SpecKind                       `yaml:"kind"`
	Name       string                         `yaml:"name"`
	Role       ParticipantRole                `yaml:"role"`
	Version    string                         `yaml:"version"`
	PublicPath string                         `yaml:"public_path"`
	Exposes    map[string]string              `yaml:"exposes,omitempty"`
	Shared     map[string]SharedPackageConfig `yaml:"shared,omitempty"`
	Remotes    map[string]string              `yaml:"remotes,omitempty"`
}

func (p ParticipantDeclaration) IsHost() bool {
	return p.Role == ParticipantRoleHost
}
