package search

import (
	"context"
	"testing"
)

func TestClassifyIntentParsesResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []string{`{"intent":"greeting","call_tools":false}`}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	result, err := e.classifyIntent(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("classifyIntent: %v", err)
	}
	if result.Intent != "greeting" || result.CallTools {
		t.Fatalf("classifyIntent = %+v", result)
	}
}

func TestClassifyIntentDefaultsOnMalformedResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"not json"}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	result, err := e.classifyIntent(context.Background(), "what is in my files")
	if err != nil {
		t.Fatalf("classifyIntent: %v", err)
	}
	if result.Intent != "document" || !result.CallTools {
		t.Fatalf("expected safe document/call_tools default, got %+v", result)
	}
}

func TestDecomposeParsesSubQueries(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"needs_decomposition":true,"sub_queries":["revenue this year","headcount this year"],"strategy":"split by topic"}`,
	}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	result, err := e.decompose(context.Background(), "how is revenue and headcount trending")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if !result.NeedsDecomposition || len(result.SubQueries) != 2 {
		t.Fatalf("decompose = %+v", result)
	}
}

func TestDecomposeDefaultsOnMalformedResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"garbled output"}}
	e, embedSrv := newTestEngine(t, provider)
	defer embedSrv.Close()

	result, err := e.decompose(context.Background(), "anything")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if result.NeedsDecomposition || len(result.SubQueries) != 0 {
		t.Fatalf("expected no-decomposition default, got %+v", result)
	}
}
