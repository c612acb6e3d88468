// Package scheduler runs the multi-story orchestration loop: manifest
// parsing and DAG validation at startup, reconciliation of a crashed prior
// run, and a main loop that assigns assignable stories to worker slots
// bounded by a concurrency limit until every story reaches a terminal or
// permanently-blocked status (spec §4.5).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/storyforge/internal/agent"
	"github.com/dotcommander/storyforge/internal/executor"
	"github.com/dotcommander/storyforge/internal/manifest"
	"github.com/dotcommander/storyforge/internal/models"
	"github.com/dotcommander/storyforge/internal/runner"
	"github.com/dotcommander/storyforge/internal/store"
	"github.com/dotcommander/storyforge/internal/store/historyindex"
	"github.com/dotcommander/storyforge/internal/vcs"
	"github.com/dotcommander/storyforge/internal/workspace"
)

// pollInterval is how often the main loop re-evaluates blocked stories and
// looks for newly assignable work when no slot has just freed up.
const pollInterval = 500 * time.Millisecond

// Scheduler owns one orchestration run end to end.
type Scheduler struct {
	store       *store.Store
	scratch     *store.Scratch
	edits       *store.EditBox
	index       *historyindex.Index
	workspace   *workspace.Manager
	backend     *agent.Backend
	exec        *executor.Executor
	parallelism int

	indexedMu    sync.Mutex
	indexedCount map[string]int
}

// Config bundles everything a Scheduler needs to run, so wiring in
// internal/commands/run.go stays a single struct literal.
type Config struct {
	Store       *store.Store
	Scratch     *store.Scratch
	Edits       *store.EditBox
	Index       *historyindex.Index
	Workspace   *workspace.Manager
	Backend     *agent.Backend
	LogRoot     string
	Parallelism int
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	exec := executor.New(cfg.Backend, cfg.Store, cfg.Scratch, cfg.Edits, cfg.LogRoot)
	return &Scheduler{
		store:        cfg.Store,
		scratch:      cfg.Scratch,
		edits:        cfg.Edits,
		index:        cfg.Index,
		workspace:    cfg.Workspace,
		backend:      cfg.Backend,
		exec:         exec,
		parallelism:  parallelism,
		indexedCount: make(map[string]int),
	}
}

// Bootstrap parses and validates manifestPath, creates the initial state
// document if one does not exist, seeds any stories not already present
// (idempotent on --resume), and rebuilds the history index from whatever
// state is now on disk. A cyclic or otherwise invalid manifest is a fatal
// configuration error; nothing is written to the state document in that case.
func (s *Scheduler) Bootstrap(ctx context.Context, manifestPath string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.ValidateDAG(m); err != nil {
		return err
	}

	if err := s.store.Init(ctx, manifestPath); err != nil {
		return err
	}

	if err := s.store.Mutate(ctx, func(doc *store.Document) error {
		store.SeedStories(doc, m.ToStories())
		return nil
	}); err != nil {
		return fmt.Errorf("seed stories: %w", err)
	}

	return s.rebuildIndex(ctx)
}

// Reconcile finds any story left in_progress by a prior run whose worker
// process is no longer attached to it (spec §4.5): the orchestrator has no
// live worker-liveness signal beyond "this process is the only writer", so
// on every fresh startup every in_progress story is, by definition, an
// orphan of the previous process. Its current in_progress step is failed
// with a reconciliation error and its workspace checkout reset. FailStep
// also fails the parent story immediately (there is no live worker left to
// resume it mid-workflow), so any unclaimed story depending on it is
// propagated to blocked in the same pass — otherwise it would sit
// unclaimed waiting on a dependency that will never complete.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	doc, err := s.store.Read(ctx)
	if err != nil {
		return err
	}

	var orphaned []string
	for id, story := range doc.Stories {
		if story.Status == models.StoryStatusInProgress {
			if cur := story.CurrentStep(); cur != nil {
				orphaned = append(orphaned, id)
			}
		}
	}

	for _, id := range orphaned {
		if err := s.reconcileStory(ctx, id); err != nil {
			return fmt.Errorf("reconcile story %s: %w", id, err)
		}
	}
	return nil
}

func (s *Scheduler) reconcileStory(ctx context.Context, storyID string) error {
	var preStartRev string
	err := s.store.Mutate(ctx, func(doc *store.Document) error {
		story := doc.Stories[storyID]
		if story == nil {
			return store.ErrStoryNotFound(storyID)
		}
		cur := story.CurrentStep()
		if cur == nil {
			return nil
		}
		preStartRev = cur.PreStartRev
		if err := store.FailStep(doc, storyID, cur.ID, "", "reconciled after orchestrator restart: no live worker"); err != nil {
			return err
		}
		store.PropagateFailure(doc, storyID)
		return nil
	})
	if err != nil {
		return err
	}

	_ = s.edits.Discard(storyID)

	if repo := s.workspace.OpenIfExists(storyID); repo != nil && preStartRev != "" {
		// Filesystem probes right after a crash can transiently fail (a
		// stale lock file, a half-flushed mount); a few quick retries clear
		// that without masking a genuinely broken checkout, which Reset's
		// final error would still surface to the caller's logs.
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 20 * time.Millisecond
		b.MaxElapsedTime = 2 * time.Second
		_ = backoff.Retry(func() error {
			return s.workspace.Reset(ctx, repo, preStartRev)
		}, backoff.WithContext(b, ctx))
	}

	doc, err := s.store.Read(ctx)
	if err != nil {
		return err
	}
	if doc.Stories[storyID] != nil {
		s.recordIndexEntries(ctx, storyID, doc.Stories[storyID])
	}
	return nil
}

// Run executes the main scheduling loop until every story is terminal or
// permanently blocked, or ctx is cancelled. A lock timeout while reading or
// reviewing the state document is retried on the next loop iteration.
func (s *Scheduler) Run(ctx context.Context) error {
	var lte *store.LockTimeoutError
	for {
		doc, err := s.store.Read(ctx)
		if err != nil {
			if errors.As(err, &lte) && ctx.Err() == nil {
				continue
			}
			return err
		}
		if store.AllTerminal(doc) {
			return nil
		}

		if err := s.store.Mutate(ctx, func(doc *store.Document) error {
			store.ReviewBlocked(doc)
			return nil
		}); err != nil {
			if errors.As(err, &lte) && ctx.Err() == nil {
				continue
			}
			return fmt.Errorf("review blocked stories: %w", err)
		}

		doc, err = s.store.Read(ctx)
		if err != nil {
			if errors.As(err, &lte) && ctx.Err() == nil {
				continue
			}
			return err
		}
		assignable := store.AssignableStories(doc)
		if len(assignable) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := s.runBatch(ctx, assignable); err != nil {
			return err
		}
	}
}

// runBatch claims and runs every assignable story concurrently, via an
// errgroup.Group whose SetLimit bounds how many run at once to
// s.parallelism — worker slots, not a cap on how many stories are
// considered in one loop iteration. Deliberately not errgroup.WithContext:
// stories are independent units of work, so one story's error must not
// cancel its unrelated siblings the way a failing step cancels the rest of
// its own parallel step group.
func (s *Scheduler) runBatch(ctx context.Context, storyIDs []string) error {
	var g errgroup.Group
	g.SetLimit(s.parallelism)

	for _, id := range storyIDs {
		storyID := id
		g.Go(func() error {
			return s.runOneStory(ctx, storyID)
		})
	}
	return g.Wait()
}

// runOneStory claims storyID, checks out an isolated workspace for it,
// drives it to completion via the runner, and — on completion — integrates
// it and disposes the checkout. A step failure is not returned as an error:
// the runner reports it as the story's failed status, and the story's
// dependents are then blocked by the switch below. Errors from claiming,
// checkout, or the runner itself are returned.
func (s *Scheduler) runOneStory(ctx context.Context, storyID string) error {
	workerID := workerIDFor(storyID)

	if err := s.store.Mutate(ctx, func(doc *store.Document) error {
		_, err := store.ClaimStory(doc, storyID, workerID)
		return err
	}); err != nil {
		return fmt.Errorf("claim story %s: %w", storyID, err)
	}

	repo, err := s.workspace.Checkout(ctx, storyID)
	if err != nil {
		return fmt.Errorf("checkout workspace for story %s: %w", storyID, err)
	}

	run := runner.New(s.exec, s.store)
	status, err := run.Run(ctx, repo, storyID, workerID)
	if err != nil {
		return fmt.Errorf("run story %s: %w", storyID, err)
	}

	doc, err := s.store.Read(ctx)
	if err != nil {
		return err
	}
	if doc.Stories[storyID] != nil {
		s.recordIndexEntries(ctx, storyID, doc.Stories[storyID])
	}

	switch status {
	case models.StoryStatusCompleted:
		return s.completeStory(ctx, storyID, workerID, repo)
	case models.StoryStatusFailed:
		return s.propagateFailure(ctx, storyID)
	default:
		return nil
	}
}

// completeStory integrates storyID, re-driving the runner across any
// conflict-resolution steps workspace.Integrate inserts along the way. A
// rebase conflict does not fail the story: Integrate reopens it in_progress
// with a scheduled conflict-resolution step ahead of final_review, and the
// story must be run again — within this same claim, not a later loop
// iteration, since only unclaimed stories are ever picked up by Run — before
// integration is retried.
func (s *Scheduler) completeStory(ctx context.Context, storyID, workerID string, repo *vcs.Repo) error {
	run := runner.New(s.exec, s.store)

	for {
		ok, err := s.integrate(ctx, storyID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		status, err := run.Run(ctx, repo, storyID, workerID)
		if err != nil {
			return fmt.Errorf("run story %s: %w", storyID, err)
		}

		doc, err := s.store.Read(ctx)
		if err != nil {
			return err
		}
		if doc.Stories[storyID] != nil {
			s.recordIndexEntries(ctx, storyID, doc.Stories[storyID])
		}

		switch status {
		case models.StoryStatusCompleted:
			continue
		case models.StoryStatusFailed:
			return s.propagateFailure(ctx, storyID)
		default:
			return nil
		}
	}
}

// integrate hands storyID to the workspace manager. ok=true means the
// rebase was clean and the story has been squash-merged, archived, and its
// checkout disposed. ok=false means workspace.Integrate hit a rebase
// conflict and reopened the story in_progress with a new conflict-resolution
// step; the caller is responsible for re-running it before calling integrate
// again.
func (s *Scheduler) integrate(ctx context.Context, storyID string) (bool, error) {
	ok, err := s.workspace.Integrate(ctx, s.store, storyID)
	if err != nil {
		return false, fmt.Errorf("integrate story %s: %w", storyID, err)
	}
	if !ok {
		return false, nil
	}
	_ = s.scratch.ArchiveStory(storyID)
	_ = s.workspace.Dispose(storyID)
	if err := s.store.Mutate(ctx, func(doc *store.Document) error {
		st := doc.Stories[storyID]
		if st == nil {
			return store.ErrStoryNotFound(storyID)
		}
		st.AppendHistory("", nil, models.HistoryIntegrated, nil)
		return nil
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) propagateFailure(ctx context.Context, storyID string) error {
	return s.store.Mutate(ctx, func(doc *store.Document) error {
		store.PropagateFailure(doc, storyID)
		return nil
	})
}

func (s *Scheduler) rebuildIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	doc, err := s.store.Read(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Rebuild(ctx, doc.Stories); err != nil {
		return err
	}

	s.indexedMu.Lock()
	for id, story := range doc.Stories {
		s.indexedCount[id] = len(story.History)
	}
	s.indexedMu.Unlock()
	return nil
}

// recordIndexEntries mirrors into the history index every entry appended to
// story's history since the last call for this story ID. The index is a
// derived convenience (spec §4.9): a failed mirror write is ignored, never
// treated as fatal.
func (s *Scheduler) recordIndexEntries(ctx context.Context, storyID string, story *models.Story) {
	if s.index == nil {
		return
	}
	s.indexedMu.Lock()
	from := s.indexedCount[storyID]
	s.indexedCount[storyID] = len(story.History)
	s.indexedMu.Unlock()

	if from >= len(story.History) {
		return
	}
	for _, entry := range story.History[from:] {
		_ = s.index.Append(ctx, storyID, entry)
	}
}

func workerIDFor(storyID string) string {
	return "worker-" + storyID
}
