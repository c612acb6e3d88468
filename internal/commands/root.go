// Package commands implements the storyforge CLI surface (spec §6): every
// subcommand prints exactly one JSON response envelope and maps its error,
// if any, to the documented process exit code.
package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/storyforge/internal/app"
	"github.com/dotcommander/storyforge/internal/output"
)

// Execute runs the CLI application and returns the error (if any) the
// caller should map to a process exit code via output.ExitCode.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "storyforge",
		Short:         "Coding-agent orchestrator: stories, steps, and workflow edits over an isolated git workspace per story",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.EnsureConfigDir()
		},
	}

	root.PersistentFlags().String("data-dir", "", "Override the run's data directory (default: .storyforge, or $STORYFORGE_DATA_DIR)")
	root.PersistentFlags().String("agent", "", "Agent backend to dispatch steps to: claude, opencode, or mock (default: claude)")
	root.Flags().BoolP("version", "v", false, "version for storyforge")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newHistoryCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Default().Error("command failed", "error", err.Error())
		}
	}
	return err
}
