// Package model holds the domain types shared by storage, the vector
// store, the indexing pipeline, and the search engine: file records,
// chunk snapshots, vector documents, and the singleton indexing state.
package model

import "time"

// FileKind classifies a file for deep-eligibility and parser routing.
type FileKind string

const (
	KindText         FileKind = "text"
	KindDocument     FileKind = "document"
	KindImage        FileKind = "image"
	KindAudio        FileKind = "audio"
	KindVideo        FileKind = "video"
	KindPresentation FileKind = "presentation"
	KindOther        FileKind = "other"
)

// PrivacyLevel tags a file for server-side vector filtering.
type PrivacyLevel string

const (
	PrivacyPublic  PrivacyLevel = "public"
	PrivacyPrivate PrivacyLevel = "private"
)

// Stage values for FileRecord.FastStage / DeepStage.
const (
	StagePending  = 0
	StageText     = 1
	StageEmbedded = 2
	StageFailed   = -1
	StageSkipped  = -2 // deep only: not applicable
)

// FileRecord is the identity and stage-tracking record for one ingested
// file. fast_stage and deep_stage advance independently subject to the
// invariant that deep_stage may only progress once fast_stage == StageEmbedded.
type FileRecord struct {
	FileID       string
	Path         string
	Name         string
	Extension    string
	Kind         FileKind
	FolderID     string
	PrivacyLevel PrivacyLevel
	PageCount    int
	PreviewImage []byte
	Metadata     map[string]any

	FastStage int
	DeepStage int

	FastTextAt  *time.Time
	FastEmbedAt *time.Time
	DeepTextAt  *time.Time
	DeepEmbedAt *time.Time

	// AttemptCount/FailureCount are persisted per D.1 of SPEC_FULL so a
	// process restart does not reset the consecutive-failure counter the
	// scheduler uses to give up on a file.
	AttemptCount int
	FailureCount int
}

// ChunkVersion distinguishes fast-round text chunks from deep-round
// VLM-described chunks. Both versions coexist; neither dominates.
type ChunkVersion string

const (
	VersionFast ChunkVersion = "fast"
	VersionDeep ChunkVersion = "deep"
)

// ChunkSnapshot is one bounded, ordered passage of a file's content at a
// given version.
type ChunkSnapshot struct {
	ChunkID     string
	FileID      string
	Ordinal     int
	Text        string
	Snippet     string
	TokenCount  int
	CharCount   int
	SectionPath string
	Metadata    map[string]any
	CreatedAt   time.Time
	Version     ChunkVersion
}

// VectorDocument is the vector-store-side projection of a chunk: DocID
// mirrors ChunkID, and Metadata carries only the subset of chunk/file
// fields needed for server-side filtering.
type VectorDocument struct {
	DocID    string
	Vector   []float32
	Metadata map[string]any
}

// IndexingStatus is the coarse-grained state of the indexer as a whole.
type IndexingStatus string

const (
	StatusIdle    IndexingStatus = "idle"
	StatusRunning IndexingStatus = "running"
	StatusPaused  IndexingStatus = "paused"
	StatusError   IndexingStatus = "error"
)

// IndexingState is the singleton, writer-exclusive-to-the-state-manager
// snapshot of indexer progress. It is always read as an atomically
// published whole; callers never observe a torn update.
type IndexingState struct {
	Status       IndexingStatus
	Message      string
	LastError    string
	ActiveStage  string
	ActiveDetail string
	StepCurrent  int
	StepTotal    int
	Progress     int // clamped [0,100]
	Event        string
	UpdatedAt    time.Time
}

// Clamp returns s with Progress clamped into [0,100].
func (s IndexingState) Clamp() IndexingState {
	if s.Progress < 0 {
		s.Progress = 0
	}
	if s.Progress > 100 {
		s.Progress = 100
	}
	return s
}

// ShouldProcessDeep implements spec.md §4.5's eligibility predicate.
func ShouldProcessDeep(r FileRecord) bool {
	switch r.Kind {
	case KindImage, KindPresentation:
		return true
	case KindDocument:
		// PDFs are modeled as KindDocument; eligible when they carry a
		// preview image or a known page count.
		return len(r.PreviewImage) > 0 || r.PageCount > 0
	default:
		return false
	}
}
