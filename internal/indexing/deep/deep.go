// Package deep implements the Deep Processor (C5): the VLM-description
// round for images, PDFs, and presentations, per spec.md §4.5.
//
// The VLM call shape (system+user messages, image embedded as a
// markdown data-URL in the user message content, plain p.Chat call) is
// grounded on the teacher's internal/tools/imagetool.DescribeTool,
// the only place in the pack that actually sends an image to an LLM
// provider for description.
package deep

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"knowledgeworkspace/internal/chunker"
	"knowledgeworkspace/internal/content"
	"knowledgeworkspace/internal/indexing/fast"
	"knowledgeworkspace/internal/llm"
	"knowledgeworkspace/internal/llmclient"
	"knowledgeworkspace/internal/model"
	"knowledgeworkspace/internal/settings"
	"knowledgeworkspace/internal/stateman"
	"knowledgeworkspace/internal/storage"
)

const (
	imagePrompt   = "Describe the image below in plain text. Include objects, colors, scene, and any readable text."
	pdfPagePrompt = "Describe the content of this document page in plain text, preserving any readable text, tables, and notable visual structure."
)

// Processor runs the deep round for one file at a time. It embeds a
// *fast.Processor to reuse its Store/VectorStore/embedAndUpsert/state
// plumbing: spec.md §4.5 steps 6-7 ("Embed and upsert exactly as in
// fast processing") are the identical operation, only the tagged
// ChunkVersion differs.
type Processor struct {
	Fast     *fast.Processor
	Router   *content.Router
	Provider llm.Provider
	Model    string
}

// Process runs the deep round for fileID and returns whether it
// succeeded, per spec.md §4.5's algorithm.
func (p *Processor) Process(ctx context.Context, fileID string) (bool, error) {
	defer p.Fast.State.ResetActiveState()

	rec, ok, err := p.Fast.Store.GetFile(ctx, fileID)
	if err != nil {
		return false, fmt.Errorf("load file %s: %w", fileID, err)
	}
	if !ok {
		return false, fmt.Errorf("file %s not found", fileID)
	}
	if rec.FastStage != model.StageEmbedded {
		return false, fmt.Errorf("file %s has not completed the fast round (fast_stage=%d)", fileID, rec.FastStage)
	}
	if rec.DeepStage >= model.StageEmbedded || rec.DeepStage == model.StageSkipped {
		return true, nil
	}
	if !model.ShouldProcessDeep(rec) {
		return p.skip(ctx, fileID)
	}
	if rec.Path == "" {
		return p.fail(ctx, fileID, fmt.Errorf("file %s has no path", fileID))
	}

	p.publish(fileID, "ineligible_check_passed", 5)

	snap := p.Fast.Settings.Get()
	var chunks []model.ChunkSnapshot
	switch rec.Kind {
	case model.KindImage:
		chunks, err = p.describeImageFile(ctx, fileID, rec, snap)
	case model.KindPresentation:
		chunks, err = p.describeImageFile(ctx, fileID, rec, snap)
	case model.KindDocument:
		chunks, err = p.describePDFPages(ctx, fileID, rec, snap)
	}
	if err != nil {
		return p.fail(ctx, fileID, err)
	}

	if len(chunks) == 0 {
		return p.finishEmpty(ctx, fileID)
	}

	if err := p.Fast.Store.ReplaceChunks(ctx, fileID, chunks, model.VersionDeep); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("replace deep chunks for %s: %w", fileID, err))
	}

	p.publish(fileID, "embedding", 70)
	if err := p.Fast.EmbedAndUpsert(ctx, chunks, snap, model.VersionDeep); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("embed/upsert deep chunks for %s: %w", fileID, err))
	}

	now := time.Now().UTC()
	stage := model.StageEmbedded
	if err := p.Fast.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{DeepStage: &stage, DeepTextAt: &now, DeepEmbedAt: &now}); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("update deep_stage=2 for %s: %w", fileID, err))
	}

	rec.Metadata = mergeMetadata(rec.Metadata, map[string]any{
		"chunk_count_deep":   len(chunks),
		"vector_chunks_deep": len(chunks),
		"deep_processed":     true,
	})
	if err := p.Fast.Store.UpsertFile(ctx, rec); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to persist deep metadata summary")
	}

	p.Fast.RecordAnalytics(fileID, "deep", "complete", 100)
	return true, nil
}

func (p *Processor) describeImageFile(ctx context.Context, fileID string, rec model.FileRecord, snap settings.Snapshot) ([]model.ChunkSnapshot, error) {
	imgBytes := rec.PreviewImage
	var err error
	if len(imgBytes) == 0 {
		imgBytes, err = os.ReadFile(rec.Path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", rec.Path, err)
		}
	}
	imgBytes, mime := p.prepareImage(imgBytes, snap.VisionMaxPixels)

	description, err := p.describe(ctx, imgBytes, mime, imagePrompt)
	if err != nil {
		return nil, fmt.Errorf("describe image for %s: %w", fileID, err)
	}
	if strings.TrimSpace(description) == "" {
		return nil, nil
	}
	opts := chunker.Options{ChunkSize: snap.RAGChunkSize, ChunkOverlap: snap.RAGChunkOverlap, SnippetLength: snap.MaxSnippetLength}
	return []model.ChunkSnapshot{chunker.SingleChunk(fileID, description, opts)}, nil
}

func (p *Processor) describePDFPages(ctx context.Context, fileID string, rec model.FileRecord, snap settings.Snapshot) ([]model.ChunkSnapshot, error) {
	parsed, err := p.Router.Parse(ctx, rec.Path, content.ModeDeep)
	if err != nil {
		return nil, fmt.Errorf("deep-parse %s: %w", rec.Path, err)
	}
	if len(parsed.PageImages) == 0 {
		return nil, nil
	}

	pages := make([]int, 0, len(parsed.PageImages))
	for page := range parsed.PageImages {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	opts := chunker.Options{ChunkSize: snap.RAGChunkSize, ChunkOverlap: snap.RAGChunkOverlap, SnippetLength: snap.MaxSnippetLength}
	var chunks []model.ChunkSnapshot
	for i, page := range pages {
		imgBytes, mime := p.prepareImage(parsed.PageImages[page], snap.VisionMaxPixels)
		description, err := p.describe(ctx, imgBytes, mime, pdfPagePrompt)
		if err != nil {
			return nil, fmt.Errorf("describe page %d of %s: %w", page, fileID, err)
		}
		description = stripCodeFence(description)
		if strings.TrimSpace(description) == "" {
			continue
		}
		chunks = append(chunks, chunker.PageChunk(fileID, page, description, opts))

		if i < len(pages)-1 && snap.VisionBatchDelayMS > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(snap.VisionBatchDelayMS) * time.Millisecond):
			}
		}
	}
	return chunks, nil
}

// prepareImage downscales imgBytes to fit maxPixels and returns the
// (possibly re-encoded) bytes along with the MIME type to send.
func (p *Processor) prepareImage(imgBytes []byte, maxPixels int) (out []byte, mime string) {
	if resized, resizedMime := downscale(imgBytes, maxPixels); resizedMime != "" {
		return resized, resizedMime
	}
	return imgBytes, http.DetectContentType(imgBytes)
}

// describe sends one image to the VLM and returns its plain-text
// description, per the teacher's DescribeTool: a system+user message
// pair with the image embedded as a markdown data-URL in the user
// message content.
func (p *Processor) describe(ctx context.Context, imgBytes []byte, mime, prompt string) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(imgBytes)
	userContent := prompt + "\n\n![image](data:" + mime + ";base64," + b64 + ")\n"
	msgs := []llm.Message{
		{Role: "system", Content: "You are a helpful image understanding assistant. Answer concisely and describe visual details, objects, colors, text, and any notable attributes."},
		{Role: "user", Content: userContent},
	}
	out, err := llmclient.Collect(ctx, p.Provider, msgs, nil, p.Model)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// stripCodeFence removes a leading/trailing ``` fence a VLM sometimes
// wraps its description in, per spec.md §4.5 step 4's PDF branch.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mergeMetadata(existing map[string]any, add map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(add))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

func (p *Processor) skip(ctx context.Context, fileID string) (bool, error) {
	stage := model.StageSkipped
	if err := p.Fast.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{DeepStage: &stage}); err != nil {
		return false, fmt.Errorf("update deep_stage=-2 for %s: %w", fileID, err)
	}
	p.Fast.RecordAnalytics(fileID, "deep", "ineligible", 100)
	return true, nil
}

func (p *Processor) finishEmpty(ctx context.Context, fileID string) (bool, error) {
	if err := p.Fast.Store.ReplaceChunks(ctx, fileID, nil, model.VersionDeep); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("clear deep chunks for empty file %s: %w", fileID, err))
	}
	now := time.Now().UTC()
	stage := model.StageEmbedded
	if err := p.Fast.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{DeepStage: &stage, DeepTextAt: &now, DeepEmbedAt: &now}); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("update deep_stage for empty file %s: %w", fileID, err))
	}
	p.Fast.RecordAnalytics(fileID, "deep", "empty", 100)
	return true, nil
}

func (p *Processor) fail(ctx context.Context, fileID string, cause error) (bool, error) {
	stage := model.StageFailed
	if err := p.Fast.Store.UpdateFileStage(ctx, fileID, storage.StageUpdate{DeepStage: &stage}); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to record deep_stage=-1")
	}
	p.Fast.RecordAnalytics(fileID, "deep", "error", 0)
	return false, cause
}

func (p *Processor) publish(fileID, detail string, progress int) {
	if p.Fast.State == nil {
		return
	}
	pr := progress
	p.Fast.State.SetActiveStage(stateman.StageUpdate{Stage: "deep", Detail: fmt.Sprintf("%s: %s", fileID, detail), Progress: &pr})
}
