// Package content implements the ContentRouter (C.1): the one
// deliberately-external contract of the indexing pipeline. A fixed,
// ordered list of Parsers is consulted by extension; a dedicated PDF
// branch additionally chooses text vs. vision parsing by IndexingMode
// and the pdf_mode setting.
package content

import (
	"context"
	"errors"
	"strings"
)

// IndexingMode distinguishes the fast round from the deep round, since
// the PDF branch's parser choice depends on which round is calling it.
type IndexingMode string

const (
	ModeFast IndexingMode = "fast"
	ModeDeep IndexingMode = "deep"
)

// ErrUnsupported is returned by stub parsers for formats the router
// recognizes by extension but has no real extraction for.
var ErrUnsupported = errors.New("content: unsupported format")

// ParsedContent is a parser's output: plain text for chunking, plus the
// deep-round image/page material a VLM needs.
type ParsedContent struct {
	Text         string
	PageCount    int
	PreviewImage []byte
	PageImages   map[int][]byte // deep mode only, 1-based page number -> image bytes
	Metadata     map[string]any
}

// Parser is the capability interface every content-family handler
// implements. The router treats extensions case-insensitively and
// without the leading dot.
type Parser interface {
	Extensions() []string
	Parse(ctx context.Context, path string, mode IndexingMode) (ParsedContent, error)
}

// PDFModeSetting is read from internal/settings by the router's PDF
// branch; passed in rather than imported to avoid a dependency cycle
// between internal/content and internal/settings.
type PDFModeSetting struct {
	Mode                    string // "text" | "vision"
	FastAllowVisionFallback bool
}

// Router holds the fixed, ordered parser list plus the two PDF
// sub-parsers consulted by the PDF branch.
type Router struct {
	parsers    []Parser
	pdfText    Parser
	pdfVision  Parser
	pdfSetting func() PDFModeSetting
}

// NewRouter builds a router over parsers, matched in order by
// extension, plus the PDF text/vision sub-parsers. pdfSetting is called
// on every PDF parse so PATCH /settings/ changes take effect
// immediately without rebuilding the router.
func NewRouter(parsers []Parser, pdfText, pdfVision Parser, pdfSetting func() PDFModeSetting) *Router {
	return &Router{parsers: parsers, pdfText: pdfText, pdfVision: pdfVision, pdfSetting: pdfSetting}
}

func normalizeExt(path string) string {
	ext := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	}
	return strings.ToLower(ext)
}

// Parse delegates to the first matching parser's Extensions() list, with
// a PDF branch ahead of the general list: the branch picks text vs.
// vision parsing by mode and the pdf_mode setting, falling back to the
// vision parser when the text path yields empty output — including in
// fast mode, gated by pdf_fast_allow_vision_fallback.
func (r *Router) Parse(ctx context.Context, path string, mode IndexingMode) (ParsedContent, error) {
	ext := normalizeExt(path)
	if ext == "pdf" {
		return r.parsePDF(ctx, path, mode)
	}
	for _, p := range r.parsers {
		for _, e := range p.Extensions() {
			if strings.EqualFold(e, ext) {
				return p.Parse(ctx, path, mode)
			}
		}
	}
	return ParsedContent{}, ErrUnsupported
}

func (r *Router) parsePDF(ctx context.Context, path string, mode IndexingMode) (ParsedContent, error) {
	setting := r.pdfSetting()
	wantVision := setting.Mode == "vision"
	if mode == ModeDeep {
		// deep round always wants page images regardless of pdf_mode;
		// pdf_mode only governs the fast round's text-vs-vision choice.
		if r.pdfVision != nil {
			return r.pdfVision.Parse(ctx, path, mode)
		}
		return ParsedContent{}, ErrUnsupported
	}

	if !wantVision {
		if r.pdfText != nil {
			out, err := r.pdfText.Parse(ctx, path, mode)
			if err == nil && strings.TrimSpace(out.Text) != "" {
				return out, nil
			}
			if err != nil && !errors.Is(err, ErrUnsupported) {
				return ParsedContent{}, err
			}
		}
		if !setting.FastAllowVisionFallback {
			return ParsedContent{}, ErrUnsupported
		}
	}
	if r.pdfVision != nil {
		return r.pdfVision.Parse(ctx, path, mode)
	}
	return ParsedContent{}, ErrUnsupported
}
