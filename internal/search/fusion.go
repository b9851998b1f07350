package search

import (
	"sort"
	"strings"

	"knowledgeworkspace/internal/storage"
	"knowledgeworkspace/internal/vectorstore"
)

// rrfK is the Reciprocal Rank Fusion constant spec.md §4.7.4 fixes at
// 60. The teacher's internal/rag/retrieve/fusion.go exposes this as a
// configurable RetrieveOptions.RRFK (and weights the two sources by an
// Alpha option); spec.md pins both the constant and an implicit equal
// weighting, so neither is exposed here as a knob.
const rrfK = 60

// candidate is one fused chunk moving through the Standard pipeline.
// FileID/Text/Snippet start out partially populated from whichever
// source(s) produced a hit and are completed by hydrate; HasAnswer
// onward is populated by verify.
type candidate struct {
	ChunkID string
	FileID  string
	Snippet string
	Text    string

	KeywordRank  int
	VectorRank   int
	KeywordScore float64
	VectorScore  float64
	Fused        float64
	RerankScore  float64

	HasAnswer        bool
	Confidence       float64
	ExtractedContent string
	SourceRef        string
	SubQueryIndex    int
}

// fuseRRF merges keyword and vector hits by Reciprocal Rank Fusion,
// de-duplicating by chunk id, grounded on the teacher's
// internal/rag/retrieve/fusion.go FuseRRF: union of ids, per-source
// contribution 1/(rrfK+rank) when present, deterministic tie-break by
// rank-sum then id.
func fuseRRF(keyword []storage.SearchResult, vector []vectorstore.SearchResult) []*candidate {
	kwPos := make(map[string]int, len(keyword))
	kwByID := make(map[string]storage.SearchResult, len(keyword))
	for i, r := range keyword {
		kwPos[r.ChunkID] = i + 1
		kwByID[r.ChunkID] = r
	}
	vecPos := make(map[string]int, len(vector))
	vecByID := make(map[string]vectorstore.SearchResult, len(vector))
	for i, r := range vector {
		vecPos[r.DocID] = i + 1
		vecByID[r.DocID] = r
	}

	seen := make(map[string]struct{}, len(keyword)+len(vector))
	ids := make([]string, 0, len(keyword)+len(vector))
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, r := range keyword {
		add(r.ChunkID)
	}
	for _, r := range vector {
		add(r.DocID)
	}

	out := make([]*candidate, 0, len(ids))
	for _, id := range ids {
		kr := kwPos[id]
		vr := vecPos[id]
		var kContrib, vContrib float64
		if kr > 0 {
			kContrib = 1.0 / float64(rrfK+kr)
		}
		if vr > 0 {
			vContrib = 1.0 / float64(rrfK+vr)
		}

		c := &candidate{
			ChunkID:      id,
			FileID:       fileIDFromChunkID(id),
			KeywordRank:  kr,
			VectorRank:   vr,
			KeywordScore: kContrib,
			VectorScore:  vContrib,
			Fused:        0.5*kContrib + 0.5*vContrib,
		}
		if r, ok := kwByID[id]; ok {
			c.Snippet = r.Snippet
		}
		if r, ok := vecByID[id]; ok {
			if fid, ok := r.Metadata["file_id"].(string); ok && fid != "" {
				c.FileID = fid
			}
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fused != out[j].Fused {
			return out[i].Fused > out[j].Fused
		}
		si, sj := rankSum(out[i]), rankSum(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// rankSum treats an absent rank as effectively infinite so a candidate
// present in only one source never out-ranks one present in both
// unless its fused score already says otherwise.
func rankSum(c *candidate) int {
	const absent = 1 << 30
	kr, vr := c.KeywordRank, c.VectorRank
	if kr == 0 {
		kr = absent
	}
	if vr == 0 {
		vr = absent
	}
	return kr + vr
}

// fileIDFromChunkID recovers the owning file id from a chunk id of the
// form "<file_id>::<version>::<ordinal|page_N>" (internal/chunker's ID
// scheme), used as a fallback when a hit's own metadata doesn't carry
// file_id.
func fileIDFromChunkID(chunkID string) string {
	if i := strings.Index(chunkID, "::"); i >= 0 {
		return chunkID[:i]
	}
	return chunkID
}
