package content

import "context"

// PDFTextParser and PDFVisionParser are stubs: no PDF-decoding library
// is part of this codebase's dependency surface, so the router's PDF
// branch (content.go, parsePDF) has somewhere to delegate to once a
// real implementation is wired in, matching spec.md's framing of
// parsers as external collaborators. Both return ErrUnsupported.
type PDFTextParser struct{}

func (PDFTextParser) Extensions() []string { return []string{"pdf"} }

func (PDFTextParser) Parse(context.Context, string, IndexingMode) (ParsedContent, error) {
	return ParsedContent{}, ErrUnsupported
}

type PDFVisionParser struct{}

func (PDFVisionParser) Extensions() []string { return []string{"pdf"} }

func (PDFVisionParser) Parse(context.Context, string, IndexingMode) (ParsedContent, error) {
	return ParsedContent{}, ErrUnsupported
}
