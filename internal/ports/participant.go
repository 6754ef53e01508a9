package ports

import "esm-federation/internal/types"

type ParticipantSourcePort interface {
	LoadParticipant(path string) (types.ParticipantDeclaration, error)
}
