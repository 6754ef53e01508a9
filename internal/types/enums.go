package types

type ParticipantRole string

const (
	ParticipantRoleHost   ParticipantRole = "host"
	ParticipantRoleRemote ParticipantRole = "remote"
)

type SpecKind string

const (
	SpecKindParticipant SpecKind = "participant"
)

type StrategyType string

const (
	StrategyCompatible StrategyType = "compatible"
	StrategyExact      StrategyType = "exact"
	StrategyFallback   StrategyType = "fallback"
	StrategyError      StrategyType = "error"
)

type BuildEventType string

const (
	BuildEventStart    BuildEventType = "build-start"
	BuildEventComplete BuildEventType = "build-complete"
	BuildEventError    BuildEventType = "build-error"
)

// AutoVersion ties a shared package to the copy present in the declaring
// participant's own build output.
const AutoVersion = "auto"

const DefaultShareScope = "default"
