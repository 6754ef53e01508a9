package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"esm-federation/internal/policies"
	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// ParticipantFileAdapter loads participant declarations from YAML. Relative
// exposes and shared import paths are resolved against the file's directory.
type ParticipantFileAdapter struct{}

func NewParticipantFileAdapter() ParticipantFileAdapter {
	return ParticipantFileAdapter{}
}

func (a ParticipantFileAdapter) LoadParticipant(path string) (types.ParticipantDeclaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ParticipantDeclaration{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("participant file not found").
			WithCause(err)
	}
	var participant types.ParticipantDeclaration
	if err := yaml.Unmarshal(data, &participant); err != nil {
		return types.ParticipantDeclaration{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse participant yaml").
			WithCause(err)
	}
	if participant.Kind != types.SpecKindParticipant {
		return types.ParticipantDeclaration{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec kind is not participant")
	}
	if err := validateParticipant(participant); err != nil {
		return types.ParticipantDeclaration{}, err
	}
	return resolveParticipantPaths(participant, filepath.Dir(path)), nil
}

func validateParticipant(participant types.ParticipantDeclaration) error {
	if strings.TrimSpace(participant.Name) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("participant name is required")
	}
	switch participant.Role {
	case types.ParticipantRoleHost, types.ParticipantRoleRemote:
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("participant %s has invalid role %q", participant.Name, participant.Role))
	}
	for name, config := range participant.Shared {
		if config.Strategy == nil {
			continue
		}
		if err := policies.ValidateStrategy(*config.Strategy); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("participant %s shared %s: invalid strategy", participant.Name, name)).
				WithCause(err)
		}
	}
	return nil
}

func resolveParticipantPaths(participant types.ParticipantDeclaration, baseDir string) types.ParticipantDeclaration {
	if len(participant.Exposes) > 0 {
		exposes := make(map[string]string, len(participant.Exposes))
		for path, source := range participant.Exposes {
			exposes[shared.NormalizeExposedPath(path)] = absoluteFrom(baseDir, source)
		}
		participant.Exposes = exposes
	}
	if len(participant.Shared) > 0 {
		sharedDecls := make(map[string]types.SharedPackageConfig, len(participant.Shared))
		for name, config := range participant.Shared {
			if config.Import != "" {
				config.Import = absoluteFrom(baseDir, config.Import)
			}
			sharedDecls[name] = config
		}
		participant.Shared = sharedDecls
	}
	return participant
}

func absoluteFrom(baseDir string, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
