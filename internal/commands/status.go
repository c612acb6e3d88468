package commands

import (
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/output"
)

func newStatusCmd() *cobra.Command {
	var storyID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report every story's current status and step, or one story's detail with --story",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			rc, err := openRunContext(dataDir)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = rc.Close() }()

			doc, err := rc.store.Read(cmd.Context())
			if err != nil {
				return cmdErr(err)
			}

			if storyID != "" {
				s, ok := doc.Stories[storyID]
				if !ok {
					return cmdErr(storyNotFoundError(storyID))
				}
				if err := output.PrintSuccess(storyDetail(s)); err != nil {
					return cmdErr(err)
				}
				return nil
			}

			summaries := make([]storySummary, 0, len(doc.Stories))
			for id, s := range doc.Stories {
				summaries = append(summaries, storySummary{
					ID:           id,
					Status:       string(s.Status),
					CurrentStep:  currentStepKind(s),
					BlockedOn:    s.BlockedReason,
					CompletedPct: completedPercent(s),
					ClaimedAgo:   claimedAgo(s),
					TokensUsed:   humanize.Comma(totalTokens(s)),
				})
			}
			sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

			type resp struct {
				Stories []storySummary `json:"stories"`
			}
			if err := output.PrintSuccess(resp{Stories: summaries}); err != nil {
				return cmdErr(err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storyID, "story", "", "Report full detail for a single story ID")
	return cmd
}

type storySummary struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	CurrentStep  string  `json:"current_step,omitempty"`
	BlockedOn    string  `json:"blocked_reason,omitempty"`
	CompletedPct float64 `json:"completed_pct"`
	ClaimedAgo   string  `json:"claimed_ago,omitempty"`
	TokensUsed   string  `json:"tokens_used"`
}

func claimedAgo(s *models.Story) string {
	if s.ClaimedAt == nil {
		return ""
	}
	return humanize.Time(*s.ClaimedAt)
}

func totalTokens(s *models.Story) int64 {
	var total int64
	for _, st := range s.Steps {
		total += st.TokensUsed
	}
	return total
}

func storyDetail(s *models.Story) any {
	type stepView struct {
		ID     int    `json:"id"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
		Notes  string `json:"notes,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	steps := make([]stepView, 0, len(s.Steps))
	for _, st := range s.Steps {
		steps = append(steps, stepView{ID: st.ID, Kind: string(st.Kind), Status: string(st.Status), Notes: st.Notes, Error: st.Error})
	}
	return struct {
		ID            string     `json:"id"`
		Title         string     `json:"title"`
		Status        string     `json:"status"`
		BlockedReason string     `json:"blocked_reason,omitempty"`
		Steps         []stepView `json:"steps"`
	}{
		ID:            s.ID,
		Title:         s.Title,
		Status:        string(s.Status),
		BlockedReason: s.BlockedReason,
		Steps:         steps,
	}
}

func currentStepKind(s *models.Story) string {
	if cur := s.CurrentStep(); cur != nil {
		return string(cur.Kind)
	}
	return ""
}

func completedPercent(s *models.Story) float64 {
	if len(s.Steps) == 0 {
		return 0
	}
	done := 0
	for _, st := range s.Steps {
		if st.Status == models.StepStatusCompleted {
			done++
		}
	}
	return float64(done) / float64(len(s.Steps)) * 100
}

type storyNotFoundErr struct{ id string }

func storyNotFoundError(id string) error { return &storyNotFoundErr{id: id} }

func (e *storyNotFoundErr) Error() string { return "story not found: " + e.id }
func (e *storyNotFoundErr) ErrorCode() string { return "STORY_NOT_FOUND" }
func (e *storyNotFoundErr) Context() map[string]string {
	return map[string]string{"story_id": e.id}
}
func (e *storyNotFoundErr) SuggestedAction() string {
	return "check the story ID against `storyforge status` with no --story filter"
}
