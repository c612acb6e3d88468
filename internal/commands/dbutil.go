package commands

import (
	"fmt"
	"log/slog"

	"github.com/dotcommander/storyforge/internal/app"
	"github.com/dotcommander/storyforge/internal/output"
	"github.com/dotcommander/storyforge/internal/store"
	"github.com/dotcommander/storyforge/internal/store/historyindex"
)

// printedError wraps an error that has already been rendered as a JSON
// response envelope, so Execute's top-level logger does not report it a
// second time.
type printedError struct{ err error }

func (p printedError) Error() string { return p.err.Error() }
func (p printedError) Unwrap() error { return p.err }

// cmdErr prints err as a JSON error envelope on stdout, logs it for
// operators watching stderr, and returns it wrapped so Execute knows the
// envelope already carries the same failure.
func cmdErr(err error) error {
	_ = output.PrintError(err)
	slog.Default().Error("command failed", "error", err.Error())
	return printedError{err: err}
}

// runContext bundles the opened store, scratch, edit box, and history index
// a command needs, all rooted at the same data directory.
type runContext struct {
	dataDir string
	store   *store.Store
	scratch *store.Scratch
	edits   *store.EditBox
	index   *historyindex.Index
}

// openRunContext opens every on-disk component under dataDir. Callers must
// Close() the returned context's index when done.
func openRunContext(dataDirOverride string) (*runContext, error) {
	dataDir := app.DataDir(dataDirOverride)

	st, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	scratch, err := store.NewScratch(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open scratch area: %w", err)
	}
	edits, err := store.NewEditBox(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open edit drop box: %w", err)
	}
	index, err := historyindex.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open history index: %w", err)
	}

	return &runContext{
		dataDir: dataDir,
		store:   st,
		scratch: scratch,
		edits:   edits,
		index:   index,
	}, nil
}

func (rc *runContext) Close() error {
	if rc.index == nil {
		return nil
	}
	return rc.index.Close()
}
