package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"knowledgeworkspace/internal/storage"
)

var (
	quotedMention = regexp.MustCompile(`@"([^"]*)"`)
	bareMention   = regexp.MustCompile(`@(\S+)`)
)

// extractMentions strips `@name` and `@"name with spaces"` tokens from
// query and returns the cleaned text alongside the mentioned names, in
// the order they were found (quoted mentions first, matching the
// regexp pass order).
func extractMentions(query string) (cleaned string, names []string) {
	var quoted []string
	cleaned = quotedMention.ReplaceAllStringFunc(query, func(m string) string {
		if sub := quotedMention.FindStringSubmatch(m); len(sub) == 2 {
			quoted = append(quoted, sub[1])
		}
		return ""
	})

	var bare []string
	cleaned = bareMention.ReplaceAllStringFunc(cleaned, func(m string) string {
		if sub := bareMention.FindStringSubmatch(m); len(sub) == 2 {
			bare = append(bare, sub[1])
		}
		return ""
	})

	names = append(quoted, bare...)
	return collapseSpaces(cleaned), names
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ScopeIsolate implements spec.md §4.7.1. It strips @mentions from
// rawQuery, resolves each to a file id via Store.FindFilesByName
// (already case-insensitive and extension-tolerant per SPEC_FULL §D),
// and expands folderIDs to the file ids they contain via
// Store.GetFilesInFolder. When both sources are present the effective
// allowlist is their intersection; when only one is present it is used
// directly. filtered is false only when neither source restricted the
// query, in which case allow is nil and callers must not apply any
// file-id filter. A non-nil, empty allow with filtered=true means the
// filter resolved to nothing ("no results").
func ScopeIsolate(ctx context.Context, store storage.Store, rawQuery string, folderIDs []string) (cleaned string, allow []string, filtered bool, err error) {
	cleaned, names := extractMentions(rawQuery)

	var mentionIDs []string
	haveMentions := len(names) > 0
	if haveMentions {
		seen := make(map[string]struct{})
		for _, name := range names {
			recs, ferr := store.FindFilesByName(ctx, name)
			if ferr != nil {
				return cleaned, nil, false, fmt.Errorf("resolve mention %q: %w", name, ferr)
			}
			for _, r := range recs {
				if _, ok := seen[r.FileID]; !ok {
					seen[r.FileID] = struct{}{}
					mentionIDs = append(mentionIDs, r.FileID)
				}
			}
		}
	}

	var folderFileIDs []string
	haveFolders := len(folderIDs) > 0
	if haveFolders {
		seen := make(map[string]struct{})
		for _, folderID := range folderIDs {
			recs, ferr := store.GetFilesInFolder(ctx, folderID)
			if ferr != nil {
				return cleaned, nil, false, fmt.Errorf("expand folder %q: %w", folderID, ferr)
			}
			for _, r := range recs {
				if _, ok := seen[r.FileID]; !ok {
					seen[r.FileID] = struct{}{}
					folderFileIDs = append(folderFileIDs, r.FileID)
				}
			}
		}
	}

	switch {
	case haveMentions && haveFolders:
		return cleaned, intersectIDs(mentionIDs, folderFileIDs), true, nil
	case haveMentions:
		return cleaned, mentionIDs, true, nil
	case haveFolders:
		return cleaned, folderFileIDs, true, nil
	default:
		return cleaned, nil, false, nil
	}
}

func intersectIDs(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
