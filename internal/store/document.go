package store

import (
	"time"

	"github.com/dotcommander/storyforge/internal/models"
)

// SchemaVersion is stamped into every persisted document so a future
// incompatible layout change can be detected on load.
const SchemaVersion = "v1"

// Document is the single JSON document the state store owns. It is the
// sole source of truth for story and step state (spec §3, §6).
type Document struct {
	SchemaVersion string                   `json:"schema_version"`
	CreatedAt     time.Time                `json:"created_at"`
	ManifestPath  string                   `json:"source_manifest_path"`
	Stories       map[string]*models.Story `json:"stories"`
}

// newDocument builds an empty document for a fresh run.
func newDocument(manifestPath string) *Document {
	return &Document{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now(),
		ManifestPath:  manifestPath,
		Stories:       make(map[string]*models.Story),
	}
}

// clone returns a deep-enough copy of the document for validation against a
// working copy before a mutation commits. Stories and their steps are
// copied by value; history slices are copied so appends to the working copy
// never alias the original.
func (d *Document) clone() *Document {
	out := &Document{
		SchemaVersion: d.SchemaVersion,
		CreatedAt:     d.CreatedAt,
		ManifestPath:  d.ManifestPath,
		Stories:       make(map[string]*models.Story, len(d.Stories)),
	}
	for id, s := range d.Stories {
		sc := *s
		sc.Steps = make([]*models.Step, len(s.Steps))
		for i, st := range s.Steps {
			stc := *st
			sc.Steps[i] = &stc
		}
		sc.History = append([]models.HistoryEntry(nil), s.History...)
		sc.DependsOn = append([]string(nil), s.DependsOn...)
		out.Stories[id] = &sc
	}
	return out
}
