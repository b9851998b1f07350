package search

import (
	"context"
	"encoding/json"
	"strings"

	"knowledgeworkspace/internal/llm"
	"knowledgeworkspace/internal/llmclient"
)

// intentResult is the classifier's verdict, per spec.md §4.7.2.
// CallTools being false routes straight to a direct chat answer unless
// the request forces search_mode=knowledge.
type intentResult struct {
	Intent    string `json:"intent"` // document, greeting, chitchat, ...
	CallTools bool   `json:"call_tools"`
}

// classifyIntent asks the LLM to bucket query into spec.md §4.7.2's
// intent taxonomy. Any failure to call or parse degrades to the safe
// default of "treat this as a document question and run retrieval",
// matching §7's policy of never failing a turn outright on a
// classification hiccup.
func (e *Engine) classifyIntent(ctx context.Context, query string) (intentResult, error) {
	fallback := intentResult{Intent: "document", CallTools: true}

	msgs := []llm.Message{
		{Role: "system", Content: "You classify a user's message for a document search assistant. " +
			`Respond with JSON only, shaped exactly as {"intent":string,"call_tools":bool}. ` +
			`intent is one of "document", "greeting", "chitchat", "other". ` +
			"call_tools is true when answering requires looking at the user's documents, false for greetings or small talk."},
		{Role: "user", Content: query},
	}
	out, err := llmclient.Collect(ctx, e.Provider, msgs, nil, e.Model)
	if err != nil {
		return fallback, err
	}

	if !strings.ContainsRune(out.Text, '{') {
		return fallback, nil
	}
	var result intentResult
	if jerr := json.Unmarshal([]byte(extractJSONObject(out.Text)), &result); jerr != nil {
		return fallback, nil
	}
	if result.Intent == "" {
		result.Intent = fallback.Intent
	}
	return result, nil
}

// decomposeResult is the query planner's verdict, per spec.md §4.7.3.
type decomposeResult struct {
	NeedsDecomposition bool     `json:"needs_decomposition"`
	SubQueries         []string `json:"sub_queries"`
	Strategy           string   `json:"strategy"`
}

// decompose asks the LLM whether query should be split into
// independent sub-queries for the MultiPath pipeline. A call or parse
// failure degrades to "no decomposition", which routes the caller back
// to the single-query Standard pipeline.
func (e *Engine) decompose(ctx context.Context, query string) (decomposeResult, error) {
	var fallback decomposeResult

	msgs := []llm.Message{
		{Role: "system", Content: "You plan document retrieval for a search assistant. " +
			`Respond with JSON only, shaped exactly as {"needs_decomposition":bool,"sub_queries":[string,...],"strategy":string}. ` +
			"Set needs_decomposition true only when the question genuinely bundles multiple independent lookups " +
			"that are each better searched for separately. sub_queries is empty when needs_decomposition is false."},
		{Role: "user", Content: query},
	}
	out, err := llmclient.Collect(ctx, e.Provider, msgs, nil, e.Model)
	if err != nil {
		return fallback, err
	}

	if !strings.ContainsRune(out.Text, '{') {
		return fallback, nil
	}
	var result decomposeResult
	if jerr := json.Unmarshal([]byte(extractJSONObject(out.Text)), &result); jerr != nil {
		return fallback, nil
	}
	return result, nil
}
