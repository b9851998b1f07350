// Package chunker turns parsed text into ordered ChunkSnapshots,
// wrapping internal/documents' token-aware line splitter with
// SPEC_FULL's chunk-id scheme and snippet/metadata conventions.
package chunker

import (
	"fmt"
	"strings"
	"time"

	"knowledgeworkspace/internal/documents"
	"knowledgeworkspace/internal/model"
)

// Options configures chunking. Zero-value ChunkSize/ChunkOverlap are
// replaced by sane defaults (1000/200, matching internal/settings.Default).
type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	SnippetLength int
}

// pdfPageHeaderPrefix marks a page boundary in the concatenated text a
// PDF text parser produces, per spec.md §9's resolution of the
// page-concatenation Open Question: pages joined with "--PAGE_N--"
// headers separated by blank lines.
const pdfPageHeaderPrefix = "--PAGE_"

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.SnippetLength <= 0 {
		o.SnippetLength = 400
	}
	return o
}

// ID returns the deterministic chunk id for (fileID, version, ordinal).
// Determinism here is what makes the idempotence property in spec.md §8
// hold: reprocessing an unchanged file yields byte-identical chunk ids.
func ID(fileID string, version model.ChunkVersion, ordinal int) string {
	return fmt.Sprintf("%s::%s::%d", fileID, version, ordinal)
}

// PageID returns the deterministic chunk id for a deep-round PDF page,
// e.g. "<file_id>::deep::page_3".
func PageID(fileID string, version model.ChunkVersion, page int) string {
	return fmt.Sprintf("%s::%s::page_%d", fileID, version, page)
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// ChunkText splits text into ordered fast-round ChunkSnapshots using
// internal/documents' token-aware splitter, keyed by fileID+ordinal.
func ChunkText(fileID, path, text string, opts Options) []model.ChunkSnapshot {
	opts = opts.withDefaults()
	lang := documents.DeduceLanguage(path)
	tok := documents.RuneTokenizer{}
	splitter := documents.Splitter{MaxTokens: opts.ChunkSize, OverlapTokens: opts.ChunkOverlap, Lang: lang, Tok: tok}

	now := time.Now().UTC()
	var out []model.ChunkSnapshot
	_ = splitter.Stream(strings.NewReader(text), func(c documents.Chunk) error {
		if strings.TrimSpace(c.Text) == "" {
			return nil
		}
		// Ordinal is reassigned by output position, not c.Index: the
		// splitter can emit a leading empty chunk that gets filtered
		// above, and ordinal must stay a dense range (spec.md §3).
		ordinal := len(out)
		out = append(out, model.ChunkSnapshot{
			ChunkID:    ID(fileID, model.VersionFast, ordinal),
			FileID:     fileID,
			Ordinal:    ordinal,
			Text:       c.Text,
			Snippet:    snippet(c.Text, opts.SnippetLength),
			TokenCount: tok.Count(c.Text),
			CharCount:  len(c.Text),
			CreatedAt:  now,
			Version:    model.VersionFast,
		})
		return nil
	})
	return out
}

// SplitPDFPages splits text produced by a PDF text parser into its
// per-page segments, recognizing "--PAGE_N--" header lines. Text with
// no such headers is returned as a single page.
func SplitPDFPages(text string) []string {
	if !strings.Contains(text, pdfPageHeaderPrefix) {
		return []string{text}
	}
	var pages []string
	for _, block := range strings.Split(text, pdfPageHeaderPrefix) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if i := strings.IndexByte(block, '\n'); i >= 0 {
			block = strings.TrimSpace(block[i+1:])
		} else {
			continue // a bare "N--" header with nothing after it
		}
		if block != "" {
			pages = append(pages, block)
		}
	}
	if len(pages) == 0 {
		return []string{text}
	}
	return pages
}

// ChunkPDFPages builds one fast-round chunk per page, for
// pdf_one_chunk_per_page=true.
func ChunkPDFPages(fileID string, pages []string, opts Options) []model.ChunkSnapshot {
	opts = opts.withDefaults()
	tok := documents.RuneTokenizer{}
	now := time.Now().UTC()
	out := make([]model.ChunkSnapshot, 0, len(pages))
	for i, text := range pages {
		page := i + 1
		out = append(out, model.ChunkSnapshot{
			ChunkID:     ID(fileID, model.VersionFast, i),
			FileID:      fileID,
			Ordinal:     i,
			Text:        text,
			Snippet:     snippet(text, opts.SnippetLength),
			TokenCount:  tok.Count(text),
			CharCount:   len(text),
			SectionPath: fmt.Sprintf("page_%d", page),
			Metadata:    map[string]any{"page_number": page},
			CreatedAt:   now,
			Version:     model.VersionFast,
		})
	}
	return out
}

// PageChunk builds a single deep-round chunk for one described PDF
// page, per spec.md §4.5's per-page dispatch.
func PageChunk(fileID string, page int, text string, opts Options) model.ChunkSnapshot {
	opts = opts.withDefaults()
	tok := documents.RuneTokenizer{}
	return model.ChunkSnapshot{
		ChunkID:     PageID(fileID, model.VersionDeep, page),
		FileID:      fileID,
		Ordinal:     page - 1,
		Text:        text,
		Snippet:     snippet(text, opts.SnippetLength),
		TokenCount:  tok.Count(text),
		CharCount:   len(text),
		SectionPath: fmt.Sprintf("page_%d", page),
		Metadata:    map[string]any{"page_number": page, "source": "vlm"},
		CreatedAt:   time.Now().UTC(),
		Version:     model.VersionDeep,
	}
}

// SingleChunk builds one whole-document deep-round chunk, used for
// image/presentation VLM descriptions (spec.md §4.5).
func SingleChunk(fileID string, text string, opts Options) model.ChunkSnapshot {
	opts = opts.withDefaults()
	tok := documents.RuneTokenizer{}
	return model.ChunkSnapshot{
		ChunkID:    ID(fileID, model.VersionDeep, 0),
		FileID:     fileID,
		Ordinal:    0,
		Text:       text,
		Snippet:    snippet(text, opts.SnippetLength),
		TokenCount: tok.Count(text),
		CharCount:  len(text),
		Metadata:   map[string]any{"source": "vlm"},
		CreatedAt:  time.Now().UTC(),
		Version:    model.VersionDeep,
	}
}
