// Package scheduler implements the Indexer Scheduler (C6): the single
// process-wide driver that selects pending files, dispatches them to
// the fast/deep processors under bounded concurrency, and retries or
// gives up on repeated failures, per spec.md §4.6.
//
// The bounded-concurrency dispatch (errgroup.Group with SetLimit) is
// grounded on the teacher's internal/tools/web/fetch_tool.go, the
// pack's clearest example of fanning a slice of work out over a worker
// limit and joining on completion.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"knowledgeworkspace/internal/indexing/deep"
	"knowledgeworkspace/internal/indexing/fast"
	"knowledgeworkspace/internal/model"
	"knowledgeworkspace/internal/stateman"
	"knowledgeworkspace/internal/storage"
)

// Status is the scheduler's own lifecycle state, distinct from
// state_manager's per-file progress.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Config tunes the scheduler's concurrency and retry policy.
type Config struct {
	FastConcurrency         int
	DeepConcurrency         int
	MaxFailuresBeforeGiveUp int
	PollInterval            time.Duration
}

func (c Config) withDefaults() Config {
	if c.FastConcurrency <= 0 {
		c.FastConcurrency = 4
	}
	if c.DeepConcurrency <= 0 {
		c.DeepConcurrency = 2
	}
	if c.MaxFailuresBeforeGiveUp <= 0 {
		c.MaxFailuresBeforeGiveUp = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Scheduler drives files through fast_stage/deep_stage per spec.md
// §4.6. One Scheduler runs at most one background loop at a time;
// Start/Pause/Resume/Stop are safe for concurrent use.
type Scheduler struct {
	Store storage.Store
	Fast  *fast.Processor
	Deep  *deep.Processor
	State *stateman.Manager
	Cfg   Config

	mu       sync.Mutex
	status   Status
	paused   bool
	stopCh   chan struct{}
	loopDone chan struct{}

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// New builds a Scheduler with cfg's zero fields replaced by defaults.
func New(store storage.Store, fastProc *fast.Processor, deepProc *deep.Processor, state *stateman.Manager, cfg Config) *Scheduler {
	return &Scheduler{
		Store:    store,
		Fast:     fastProc,
		Deep:     deepProc,
		State:    state,
		Cfg:      cfg.withDefaults(),
		status:   StatusIdle,
		inFlight: make(map[string]struct{}),
	}
}

// Status returns the scheduler's current lifecycle state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start begins the polling loop in the background. Returns an error if
// already running or paused; call Stop first to restart from idle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusPaused {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already %s", s.status)
	}
	s.status = StatusRunning
	s.paused = false
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.State.SetStatus(model.StatusRunning, "indexer started", "")
	go s.run(ctx)
	return nil
}

// Pause requests the loop stop dispatching new batches. It blocks until
// the in-flight batch (if any) completes, per spec.md §4.6's "pause
// completes in-flight files before reporting paused."
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		status := s.status
		s.mu.Unlock()
		if status == StatusPaused || status != StatusRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Resume un-pauses a paused scheduler.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return
	}
	s.status = StatusRunning
	s.paused = false
	s.State.SetStatus(model.StatusRunning, "indexer resumed", "")
}

// Stop requests the loop exit and blocks until it has, completing any
// in-flight batch first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.status == StatusIdle || s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	loopDone := s.loopDone
	s.paused = false
	s.mu.Unlock()

	close(stopCh)
	<-loopDone

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()
	s.State.SetStatus(model.StatusIdle, "indexer stopped", "")
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if s.isPaused() {
			s.mu.Lock()
			s.status = StatusPaused
			s.mu.Unlock()
			s.State.SetStatus(model.StatusPaused, "indexer paused", "")
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-time.After(s.Cfg.PollInterval):
			}
			continue
		}

		didWork, err := s.runOnce(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("scheduler: poll iteration failed")
		}
		if !didWork {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-time.After(s.Cfg.PollInterval):
			}
		}
	}
}

// runOnce selects and dispatches one round of fast work, then one round
// of deep work, reporting whether any file was processed. Fast-before-
// deep priority (spec.md §4.6) falls out of running the fast batch to
// completion before listing deep candidates.
func (s *Scheduler) runOnce(ctx context.Context) (bool, error) {
	didWork := false

	fastFiles, err := s.Store.ListPendingFast(ctx)
	if err != nil {
		return didWork, fmt.Errorf("list pending fast: %w", err)
	}
	if len(fastFiles) > 0 {
		didWork = true
		s.dispatch(ctx, fastFiles, s.Cfg.FastConcurrency, s.processFast)
	}

	if s.isPaused() {
		return didWork, nil
	}

	deepFiles, err := s.Store.ListPendingDeep(ctx)
	if err != nil {
		return didWork, fmt.Errorf("list pending deep: %w", err)
	}
	if len(deepFiles) > 0 {
		didWork = true
		s.dispatch(ctx, deepFiles, s.Cfg.DeepConcurrency, s.processDeep)
	}

	return didWork, nil
}

// dispatch runs fn over files with at most limit concurrent in flight,
// skipping any file already being processed by the other round
// (spec.md §4.6's "never concurrently processed by both fast and
// deep"), and waits for the whole batch before returning.
func (s *Scheduler) dispatch(ctx context.Context, files []model.FileRecord, limit int, fn func(context.Context, string)) {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, rec := range files {
		fileID := rec.FileID
		if !s.markInFlight(fileID) {
			continue
		}
		g.Go(func() error {
			defer s.clearInFlight(fileID)
			fn(ctx, fileID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) markInFlight(fileID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[fileID]; busy {
		return false
	}
	s.inFlight[fileID] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(fileID string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, fileID)
}

func (s *Scheduler) processFast(ctx context.Context, fileID string) {
	ok, err := s.Fast.Process(ctx, fileID)
	s.recordOutcome(ctx, fileID, false, ok, err)
}

func (s *Scheduler) processDeep(ctx context.Context, fileID string) {
	ok, err := s.Deep.Process(ctx, fileID)
	s.recordOutcome(ctx, fileID, true, ok, err)
}

// recordOutcome resolves the give-up-after-N-consecutive-failures
// policy: a processor failure always leaves its stage at -1
// immediately (spec.md §4.4/§4.5's "on any exception, set stage=-1");
// this is the scheduler's retry decision layered on top, per §4.6. On
// success both counters reset. On failure, if the consecutive-failure
// count is still under the limit the affected round's stage (fast_stage
// for the fast round, deep_stage for the deep round) is reset to
// pending so the next poll picks the file back up; at the limit it is
// left at -1, "not retried until externally reset."
func (s *Scheduler) recordOutcome(ctx context.Context, fileID string, deepRound bool, ok bool, procErr error) {
	if ok && procErr == nil {
		if err := s.Store.ResetAttempts(ctx, fileID); err != nil {
			log.Warn().Err(err).Str("file_id", fileID).Msg("scheduler: failed to reset attempt counters")
		}
		return
	}

	if _, err := s.Store.IncrementAttempt(ctx, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("scheduler: failed to increment attempt count")
	}
	failures, err := s.Store.IncrementFailure(ctx, fileID)
	if err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("scheduler: failed to increment failure count")
		return
	}

	if failures < s.Cfg.MaxFailuresBeforeGiveUp {
		pending := model.StagePending
		update := storage.StageUpdate{FastStage: &pending}
		if deepRound {
			update = storage.StageUpdate{DeepStage: &pending}
		}
		if err := s.Store.UpdateFileStage(ctx, fileID, update); err != nil {
			log.Warn().Err(err).Str("file_id", fileID).Msg("scheduler: failed to reset stage for retry")
		}
		return
	}

	log.Warn().Str("file_id", fileID).Int("failures", failures).Err(procErr).
		Msg("scheduler: giving up on file after consecutive failures")
}
