package content

import (
	"context"
	"os"
)

// TextParser is a stdlib-only passthrough for plain text and Markdown:
// the bytes already are the chunking input, so there is nothing to
// extract.
type TextParser struct{}

func (TextParser) Extensions() []string { return []string{"txt", "md", "markdown"} }

func (TextParser) Parse(_ context.Context, path string, _ IndexingMode) (ParsedContent, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ParsedContent{}, err
	}
	return ParsedContent{Text: string(b)}, nil
}
