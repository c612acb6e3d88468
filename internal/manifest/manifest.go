// Package manifest parses the YAML input manifest (spec §6) into the
// Story records the scheduler seeds into the state store, and validates its
// dependency graph before any state is written.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/storyforge/internal/models"
)

// StorySpec is one manifest entry, prior to being seeded into the store.
type StorySpec struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	Priority           string   `yaml:"priority,omitempty"`
	Passes             *bool    `yaml:"passes,omitempty"`
	Notes              string   `yaml:"notes,omitempty"`
	DependsOn          []string `yaml:"depends_on,omitempty"`
}

// Manifest is the top-level parsed document.
type Manifest struct {
	Stories []StorySpec `yaml:"stories"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := validateFields(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validateFields(m *Manifest) error {
	seen := make(map[string]bool, len(m.Stories))
	var problems []string
	for _, s := range m.Stories {
		if s.ID == "" {
			problems = append(problems, "story with empty id")
			continue
		}
		if seen[s.ID] {
			problems = append(problems, fmt.Sprintf("duplicate story id %q", s.ID))
		}
		seen[s.ID] = true
		if s.Title == "" {
			problems = append(problems, fmt.Sprintf("story %q missing title", s.ID))
		}
		if len(s.AcceptanceCriteria) == 0 {
			problems = append(problems, fmt.Sprintf("story %q has no acceptance criteria", s.ID))
		}
	}
	for _, s := range m.Stories {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				problems = append(problems, fmt.Sprintf("story %q depends on unknown story %q", s.ID, dep))
			}
		}
	}
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// ToStories converts the manifest's specs into fresh, unclaimed Story
// records ready to be seeded into the state store.
func (m *Manifest) ToStories() []*models.Story {
	out := make([]*models.Story, 0, len(m.Stories))
	for _, s := range m.Stories {
		out = append(out, &models.Story{
			ID:                 s.ID,
			Title:              s.Title,
			Description:        s.Description,
			AcceptanceCriteria: s.AcceptanceCriteria,
			DependsOn:          s.DependsOn,
			Status:             models.StoryStatusUnclaimed,
		})
	}
	return out
}

// ConfigError reports one or more fatal manifest validation problems,
// collected so startup can report all of them at once (spec §7).
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	msg := "invalid manifest:"
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}

func (e *ConfigError) ErrorCode() string { return "CONFIG_ERROR" }

func (e *ConfigError) Context() map[string]string {
	return map[string]string{"problem_count": fmt.Sprint(len(e.Problems))}
}

func (e *ConfigError) SuggestedAction() string {
	return "fix the listed problems in the manifest and rerun"
}
