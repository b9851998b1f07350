// Package fast implements the Fast Processor (C4): the first-pass
// indexing round that extracts text, chunks it, embeds it, and upserts
// it into the vector store, per spec.md §4.4's 8-step algorithm.
//
// The overall shape (split -> embed -> upsert, batched, with a token
// mapping / FTS refresh on the storage side) is grounded on the
// teacher's internal/sefii/engine.go IngestDocument, generalized here
// to the file-record/stage-tracking lifecycle spec.md §4.4 specifies
// instead of SEFII's one-shot ingest call.
package fast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"knowledgeworkspace/internal/analytics"
	"knowledgeworkspace/internal/chunker"
	"knowledgeworkspace/internal/config"
	"knowledgeworkspace/internal/content"
	"knowledgeworkspace/internal/embedding"
	"knowledgeworkspace/internal/eventbus"
	"knowledgeworkspace/internal/model"
	"knowledgeworkspace/internal/settings"
	"knowledgeworkspace/internal/stateman"
	"knowledgeworkspace/internal/storage"
	"knowledgeworkspace/internal/vectorstore"
)

// embedMaxChars truncates chunk text before embedding. Unlike
// embed_batch_size/embed_batch_delay_ms, spec.md §4.4 names this
// constant but it is not in §6's recognized PATCH-key list, so it is
// kept as a fixed constant rather than a settings field.
const embedMaxChars = 8000

// Processor runs the fast round for one file at a time. All
// dependencies are interfaces or already-safe-for-concurrent-use types,
// so one Processor value may be shared across the scheduler's worker
// pool.
type Processor struct {
	Store       storage.Store
	VectorStore vectorstore.Store
	Router      *content.Router
	EmbedConfig config.EmbeddingConfig
	Settings    *settings.Manager
	State       *stateman.Manager
	Analytics   *analytics.Sink
	EventBus    *eventbus.Publisher
}

// Process runs the fast round for fileID and returns whether it
// succeeded. On any failure past the initial record load, fast_stage is
// set to -1 and (false, err) is returned; state_manager's active fields
// are always reset on exit, per spec.md §4.4.
func (p *Processor) Process(ctx context.Context, fileID string) (bool, error) {
	defer p.State.ResetActiveState()

	rec, ok, err := p.Store.GetFile(ctx, fileID)
	if err != nil {
		return false, fmt.Errorf("load file %s: %w", fileID, err)
	}
	if !ok {
		return false, fmt.Errorf("file %s not found", fileID)
	}
	if rec.FastStage >= model.StageEmbedded {
		return true, nil
	}
	if rec.Path == "" {
		return p.fail(ctx, fileID, fmt.Errorf("file %s has no path", fileID))
	}

	p.publish(fileID, "fast", "parsing", 10)

	snap := p.Settings.Get()
	parsed, err := p.Router.Parse(ctx, rec.Path, content.ModeFast)
	if err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("parse %s: %w", rec.Path, err))
	}
	rec.PageCount = parsed.PageCount
	rec.PreviewImage = parsed.PreviewImage
	if parsed.Metadata != nil {
		rec.Metadata = parsed.Metadata
	}
	if err := p.Store.UpsertFile(ctx, rec); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("persist parsed metadata for %s: %w", fileID, err))
	}

	if parsed.Text == "" {
		return p.finishEmpty(ctx, fileID)
	}

	p.publish(fileID, "fast", "chunking", 30)
	var chunks []model.ChunkSnapshot
	if snap.PDFOneChunkPerPage && parsed.PageCount > 0 {
		pages := chunker.SplitPDFPages(parsed.Text)
		chunks = chunker.ChunkPDFPages(fileID, pages, chunker.Options{ChunkSize: snap.RAGChunkSize, ChunkOverlap: snap.RAGChunkOverlap, SnippetLength: snap.MaxSnippetLength})
	} else {
		chunks = chunker.ChunkText(fileID, rec.Path, parsed.Text, chunker.Options{ChunkSize: snap.RAGChunkSize, ChunkOverlap: snap.RAGChunkOverlap, SnippetLength: snap.MaxSnippetLength})
	}

	if err := p.Store.ReplaceChunks(ctx, fileID, chunks, model.VersionFast); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("replace fast chunks for %s: %w", fileID, err))
	}
	now := time.Now().UTC()
	fastStage := model.StageText
	if err := p.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{FastStage: &fastStage, FastTextAt: &now}); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("update fast_stage=1 for %s: %w", fileID, err))
	}

	p.publish(fileID, "fast", "embedding", 60)
	if err := p.EmbedAndUpsert(ctx, chunks, snap, model.VersionFast); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("embed/upsert fast chunks for %s: %w", fileID, err))
	}

	embedNow := time.Now().UTC()
	embedStage := model.StageEmbedded
	if err := p.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{FastStage: &embedStage, FastEmbedAt: &embedNow}); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("update fast_stage=2 for %s: %w", fileID, err))
	}

	p.RecordAnalytics(fileID, "fast", "complete", 100)
	return true, nil
}

// finishEmpty handles the "nothing to index" terminal of step 3: empty
// text still advances fast_stage to 2 with zero chunks, and is a
// success, not a failure.
func (p *Processor) finishEmpty(ctx context.Context, fileID string) (bool, error) {
	if err := p.Store.ReplaceChunks(ctx, fileID, nil, model.VersionFast); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("clear fast chunks for empty file %s: %w", fileID, err))
	}
	now := time.Now().UTC()
	stage := model.StageEmbedded
	if err := p.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{FastStage: &stage, FastTextAt: &now, FastEmbedAt: &now}); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("update fast_stage for empty file %s: %w", fileID, err))
	}
	p.RecordAnalytics(fileID, "fast", "empty", 100)
	return true, nil
}

// EmbedAndUpsert embeds chunks in batches of snap.EmbedBatchSize,
// sleeping EmbedBatchDelayMS between batches, then upserts the
// resulting vectors and flushes. Exported so the deep processor can
// reuse it: spec.md §4.5's embed/upsert steps are identical to fast's,
// tagged with a different ChunkVersion.
func (p *Processor) EmbedAndUpsert(ctx context.Context, chunks []model.ChunkSnapshot, snap settings.Snapshot, version model.ChunkVersion) error {
	if len(chunks) == 0 {
		return nil
	}
	batchSize := snap.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = truncate(c.Text, embedMaxChars)
		}
		vectors, err := embedding.EmbedText(ctx, p.EmbedConfig, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(vectors), len(batch))
		}

		docs := make([]model.VectorDocument, len(batch))
		for i, c := range batch {
			docs[i] = model.VectorDocument{
				DocID:  c.ChunkID,
				Vector: vectors[i],
				Metadata: map[string]any{
					"file_id": c.FileID,
					"version": string(version),
					"ordinal": c.Ordinal,
				},
			}
		}
		if err := p.VectorStore.Upsert(ctx, docs); err != nil {
			return err
		}

		if end < len(chunks) && snap.EmbedBatchDelayMS > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(snap.EmbedBatchDelayMS) * time.Millisecond):
			}
		}
	}
	return p.VectorStore.Flush(ctx)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func (p *Processor) fail(ctx context.Context, fileID string, cause error) (bool, error) {
	stage := model.StageFailed
	if err := p.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{FastStage: &stage}); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to record fast_stage=-1")
	}
	p.RecordAnalytics(fileID, "fast", "error", 0)
	return false, cause
}

func (p *Processor) publish(fileID, stage, detail string, progress int) {
	if p.State == nil {
		return
	}
	pr := progress
	p.State.SetActiveStage(stateman.StageUpdate{Stage: stage, Detail: fmt.Sprintf("%s: %s", fileID, detail), Progress: &pr})
}

// RecordAnalytics fires the optional analytics/event-bus side channels.
// Exported for reuse by the deep processor.
func (p *Processor) RecordAnalytics(fileID, stage, detail string, progress int) {
	ev := analytics.Event{FileID: fileID, Stage: stage, Detail: detail, Progress: progress}
	p.Analytics.Record(ev)
	if p.EventBus != nil {
		_ = p.EventBus.Publish(context.Background(), eventbus.StageEvent{
			FileID: fileID, Stage: stage, Detail: detail, Progress: progress,
		})
	}
}
