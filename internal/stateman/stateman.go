// Package stateman is the sole writer of the indexer's observable state
// (C1 in spec.md §4.1): a singleton, mutex-guarded snapshot published
// atomically so readers never see a torn update. The design mirrors the
// teacher's mutex-guarded-state idiom used throughout
// internal/agentd/run.go (specRegMu/warppMu guarding swapped-out
// registries) and internal/llm.TokenCache, rather than atomic.Pointer:
// the teacher reaches for sync.RWMutex around a plain struct field, not
// lock-free atomics, everywhere an analogous "current state" is kept.
package stateman

import (
	"sync"
	"time"

	"knowledgeworkspace/internal/model"
)

// Manager holds the one IndexingState snapshot for the whole process.
// All methods are safe to call concurrently, including from background
// workers publishing progress.
type Manager struct {
	mu    sync.RWMutex
	state model.IndexingState
}

// New returns a Manager initialized to an idle snapshot.
func New() *Manager {
	return &Manager{
		state: model.IndexingState{
			Status:    model.StatusIdle,
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// Status returns an immutable copy of the current snapshot.
func (m *Manager) Status() model.IndexingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetStatus overwrites the top-level status field (idle/running/paused/
// error), along with message and last_error. Active-stage fields are
// left untouched; callers that are starting or stopping a whole run
// should pair this with ResetActiveState as appropriate.
func (m *Manager) SetStatus(status model.IndexingStatus, message, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = status
	m.state.Message = message
	m.state.LastError = lastError
	m.state.UpdatedAt = time.Now().UTC()
}

// StageUpdate carries the optional fields set_active_stage accepts. A
// nil pointer field means "leave this field unchanged"; Progress,
// StepCurrent, and StepTotal use pointers for the same reason since 0 is
// a meaningful value.
type StageUpdate struct {
	Stage       string
	Detail      string
	Progress    *int
	StepCurrent *int
	StepTotal   *int
	Event       string
}

// SetActiveStage merges the given fields into the snapshot. Progress is
// clamped to [0,100]. Safe to call from background workers; repeated
// identical updates are allowed and simply republish the same snapshot
// with a fresh UpdatedAt.
func (m *Manager) SetActiveStage(u StageUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ActiveStage = u.Stage
	m.state.ActiveDetail = u.Detail
	if u.Progress != nil {
		m.state.Progress = *u.Progress
	}
	if u.StepCurrent != nil {
		m.state.StepCurrent = *u.StepCurrent
	}
	if u.StepTotal != nil {
		m.state.StepTotal = *u.StepTotal
	}
	if u.Event != "" {
		m.state.Event = u.Event
	}
	m.state = m.state.Clamp()
	m.state.UpdatedAt = time.Now().UTC()
}

// ResetActiveState clears the active-stage fields (stage, detail, step
// counters, progress, event) without disturbing the top-level Status.
func (m *Manager) ResetActiveState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ActiveStage = ""
	m.state.ActiveDetail = ""
	m.state.StepCurrent = 0
	m.state.StepTotal = 0
	m.state.Progress = 0
	m.state.Event = ""
	m.state.UpdatedAt = time.Now().UTC()
}
