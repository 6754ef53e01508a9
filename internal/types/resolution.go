package types

// ScopedOverride pins a participant to its own copy of a non-singleton
// package when the globally chosen version violates its range.
type ScopedOverride struct {
	Participant string `json:"participant"`
	ScopePrefix string `json:"scopePrefix"`
	Version     string `json:"version"`
	URL         string `json:"url"`
}

type ResolvedSharedEntry struct {
	ShareKey   string           `json:"shareKey"`
	ShareScope string           `json:"shareScope"`
	Version    string           `json:"version"`
	URL        string           `json:"url"`
	Singleton  bool             `json:"singleton"`
	Strategy   VersionStrategy  `json:"strategy"`
	Satisfies  []string         `json:"satisfies"`
	Violates   []string         `json:"violates,omitempty"`
	Scoped     []ScopedOverride `json:"scoped,omitempty"`
}

type ResolutionErrorKind string

const (
	ResolutionErrorConflict     ResolutionErrorKind = "conflict"
	ResolutionErrorNoCompatible ResolutionErrorKind = "no-compatible-version"
	ResolutionErrorDegraded     ResolutionErrorKind = "degraded"
)

// ResolutionError is a non-fatal finding reported alongside the table.
type ResolutionError struct {
	Kind         ResolutionErrorKind `json:"kind"`
	ShareKey     string              `json:"shareKey"`
	Participants []string            `json:"participants"`
	Chosen       string              `json:"chosen,omitempty"`
	Message      string              `json:"message"`
}

type Resolution struct {
	Table  map[string]ResolvedSharedEntry `json:"table"`
	Errors []ResolutionError              `json:"errors,omitempty"`
}
