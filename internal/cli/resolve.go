package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"esm-federation/internal/app"
	"esm-federation/internal/types"
)

type resolveOptions struct {
	Participants []string
}

func newResolveCommand() *cobra.Command {
	opts := resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve shared dependencies without bundling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Participants, "participant", nil, "Participant declaration files")
	_ = viper.BindPFlag("participants", cmd.Flags().Lookup("participant"))

	return cmd
}

func runResolve(ctx context.Context, cmd *cobra.Command, opts resolveOptions) error {
	service := newAppService()
	result, err := service.Resolve(ctx, app.ResolveRequest{
		ParticipantPaths: resolveStrings(cmd, opts.Participants, "participants", "participant"),
	})
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(result.Resolution.Table))
	for key := range result.Resolution.Table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Printf("participants: %s\n", strings.Join(result.Participants, ", "))
	for _, key := range keys {
		entry := result.Resolution.Table[key]
		fmt.Printf("- %s@%s (%s) %s\n", key, entry.Version, entry.Strategy.Type, entry.URL)
		for _, override := range entry.Scoped {
			fmt.Printf("  scope %s -> %s@%s\n", override.ScopePrefix, key, override.Version)
		}
	}
	for _, finding := range result.Resolution.Errors {
		fmt.Println(formatFinding(finding))
	}
	return nil
}

// formatFinding names the offending participants and, when there is one, the
// version the build fell back to.
func formatFinding(finding types.ResolutionError) string {
	line := fmt.Sprintf("%s: %s", finding.Kind, finding.Message)
	if len(finding.Participants) > 0 {
		line += fmt.Sprintf(" [participants: %s]", strings.Join(finding.Participants, ", "))
	}
	if finding.Chosen != "" {
		line += fmt.Sprintf(" [chosen: %s]", finding.Chosen)
	}
	return line
}
