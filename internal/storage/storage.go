// Package storage implements C2: the relational store for files,
// versioned chunks, the FTS keyword index, and memory records, backed
// by a single modernc.org/sqlite database file.
package storage

import (
	"context"
	"time"

	"knowledgeworkspace/internal/model"
)

// SearchResult is one BM25 keyword-search hit.
type SearchResult struct {
	ChunkID string
	Score   float64
	Snippet string
}

// Counts is the (files, folders) pair returned by Counts.
type Counts struct {
	Files   int
	Folders int
}

// StageUpdate is a partial, atomic update to a file's stage fields. A
// nil pointer field leaves the corresponding column untouched.
type StageUpdate struct {
	FastStage   *int
	DeepStage   *int
	FastTextAt  *time.Time
	FastEmbedAt *time.Time
	DeepTextAt  *time.Time
	DeepEmbedAt *time.Time
}

// Store is the relational-storage contract consumed by the fast/deep
// processors, the scheduler, and the search engine.
type Store interface {
	// UpsertFile is idempotent: stage timestamp fields left zero on
	// record are preserved rather than overwritten.
	UpsertFile(ctx context.Context, rec model.FileRecord) error
	GetFile(ctx context.Context, fileID string) (model.FileRecord, bool, error)
	FindFilesByName(ctx context.Context, name string) ([]model.FileRecord, error)
	GetFilesInFolder(ctx context.Context, folderID string) ([]model.FileRecord, error)
	UpdateFileStage(ctx context.Context, fileID string, update StageUpdate) error
	IncrementAttempt(ctx context.Context, fileID string) (attempt int, err error)
	// IncrementFailure bumps the consecutive-failure counter the
	// scheduler uses to give up on a file after MaxFailuresBeforeGiveUp
	// (spec.md §4.6); ResetAttempts clears both counters on success.
	IncrementFailure(ctx context.Context, fileID string) (failures int, err error)
	ResetAttempts(ctx context.Context, fileID string) error

	// ListPendingFast returns files with fast_stage = 0, oldest-enqueued
	// first, for the scheduler's fast-round queue (spec.md §4.6).
	ListPendingFast(ctx context.Context) ([]model.FileRecord, error)
	// ListPendingDeep returns files with fast_stage = 2 and deep_stage =
	// 0, oldest-enqueued first, for the scheduler's deep-round queue.
	ListPendingDeep(ctx context.Context) ([]model.FileRecord, error)

	// ReplaceChunks atomically deletes all existing chunks for
	// (fileID, version) and inserts the new set, refreshing the FTS
	// index rows for those chunks in the same transaction.
	ReplaceChunks(ctx context.Context, fileID string, chunks []model.ChunkSnapshot, version model.ChunkVersion) error
	GetChunks(ctx context.Context, fileID string, version model.ChunkVersion) ([]model.ChunkSnapshot, error)

	Counts(ctx context.Context) (Counts, error)

	// KeywordSearch runs BM25 full-text search over chunk text,
	// optionally restricted to a file-id allowlist.
	KeywordSearch(ctx context.Context, query string, limit int, fileIDs []string) ([]SearchResult, error)

	Close() error
}
