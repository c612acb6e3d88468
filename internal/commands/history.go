package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/storyforge/internal/output"
)

func newHistoryCmd() *cobra.Command {
	var (
		storyID string
		action  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the append-only story history log, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			rc, err := openRunContext(dataDir)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = rc.Close() }()

			rows, err := rc.index.Query(cmd.Context(), storyID, action, limit)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				Entries []any `json:"entries"`
			}
			entries := make([]any, 0, len(rows))
			for _, r := range rows {
				entries = append(entries, r)
			}
			if err := output.PrintSuccess(resp{Entries: entries}); err != nil {
				return cmdErr(err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storyID, "story", "", "Filter to one story ID")
	cmd.Flags().StringVar(&action, "action", "", "Filter to one history action tag (e.g. step_completed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of entries to return")
	return cmd
}
