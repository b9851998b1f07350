package content

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// HTMLParser extracts the main article with go-readability and
// normalizes it to Markdown with html-to-markdown, the same two-step
// pipeline the corpus uses for fetched web pages, applied here to
// on-disk HTML files instead of HTTP responses.
type HTMLParser struct{}

func (HTMLParser) Extensions() []string { return []string{"html", "htm"} }

func (HTMLParser) Parse(_ context.Context, path string, _ IndexingMode) (ParsedContent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ParsedContent{}, err
	}
	utf8Body, err := toUTF8(raw)
	if err != nil {
		return ParsedContent{}, err
	}
	html := string(utf8Body)

	base, _ := url.Parse("file://" + path)
	var title string
	articleHTML := html
	if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(""))
	if err != nil {
		return ParsedContent{}, err
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}

	meta := map[string]any{}
	if title != "" {
		meta["title"] = title
	}
	return ParsedContent{Text: md, Metadata: meta}, nil
}

func toUTF8(b []byte) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(b), "")
	if err != nil {
		return b, nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return b, nil
	}
	return out, nil
}
