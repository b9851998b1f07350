package documents

import "strings"

// FileKind is a coarse content-family classification used by the content
// router to pick a parser before any bytes are read.
type FileKind string

const (
	KindPython   FileKind = "PYTHON"
	KindGo       FileKind = "GO"
	KindHTML     FileKind = "HTML"
	KindJS       FileKind = "JS"
	KindTS       FileKind = "TS"
	KindMarkdown FileKind = "MARKDOWN"
	KindJSON     FileKind = "JSON"
	KindDefault  FileKind = "DEFAULT"
)

// IsTextFile checks if a file's content appears to be text.
func IsTextFile(data []byte) bool {
	// A simple heuristic: if the file contains a null byte, consider it binary.
	return !strings.Contains(string(data), "\x00")
}

// DeduceFileKind inspects the file extension and returns a FileKind.
func DeduceFileKind(filePath string) FileKind {
	switch {
	case strings.HasSuffix(filePath, ".go"):
		return KindGo
	case strings.HasSuffix(filePath, ".py"):
		return KindPython
	case strings.HasSuffix(filePath, ".md"):
		return KindMarkdown
	case strings.HasSuffix(filePath, ".html"):
		return KindHTML
	case strings.HasSuffix(filePath, ".js"):
		return KindJS
	case strings.HasSuffix(filePath, ".ts"):
		return KindTS
	case strings.HasSuffix(filePath, ".json"):
		return KindJSON
	default:
		return KindDefault
	}
}
