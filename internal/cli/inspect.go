package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"esm-federation/internal/app"
)

type inspectOptions struct {
	OutputDir   string
	ManifestURL string
}

func newInspectCommand() *cobra.Command {
	opts := inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect built artifacts or a deployed federation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.OutputDir, "output", "out", "Output directory")
	cmd.Flags().StringVar(&opts.ManifestURL, "manifest-url", "", "Federation manifest URL to load")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("manifest_url", cmd.Flags().Lookup("manifest-url"))
	return cmd
}

func runInspect(ctx context.Context, cmd *cobra.Command, opts inspectOptions) error {
	service := newAppService()
	manifestURL := resolveString(cmd, opts.ManifestURL, "manifest_url", "manifest-url")
	outputDir := resolveString(cmd, opts.OutputDir, "output", "output")
	if manifestURL != "" && !flagChanged(cmd, "output") {
		outputDir = ""
	}
	result, err := service.Inspect(ctx, app.InspectRequest{
		OutputDir:   outputDir,
		ManifestURL: manifestURL,
	})
	if err != nil {
		return err
	}

	for _, participant := range result.Participants {
		fmt.Printf("%s %s\n", participant.Name, participant.Version)
		if participant.HasEntry {
			fmt.Printf("  exposes: %s\n", strings.Join(participant.Exposes, ", "))
			fmt.Printf("  shared: %s\n", strings.Join(participant.Shared, ", "))
		}
		if participant.HasImports {
			fmt.Printf("  import map: %d imports, %d scopes\n", participant.Imports, participant.Scopes)
			fmt.Printf("  remotes: %s\n", strings.Join(participant.Remotes, ", "))
		}
		fmt.Printf("  resolution findings: %d\n", participant.Findings)
	}
	if result.Runtime != nil {
		status := result.Runtime
		fmt.Printf("manifest: %s\n", status.ManifestURL)
		if status.ManifestError != "" {
			fmt.Printf("  error: %s\n", status.ManifestError)
		}
		for _, remote := range status.Remotes {
			state := "ok"
			if !remote.Fetched {
				state = "unreachable"
			}
			fmt.Printf("- %s %s [%s] %s\n", remote.Name, remote.Version, state, remote.EntryURL)
			if remote.LastError != "" {
				fmt.Printf("  last error: %s\n", remote.LastError)
			}
		}
	}
	return nil
}
