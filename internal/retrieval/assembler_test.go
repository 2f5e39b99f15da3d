package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/loomchat/knowledge/internal/artifact"
	"github.com/loomchat/knowledge/internal/index"
)

func TestAssemble_EmptyInputsShortCircuit(t *testing.T) {
	client := &fakeClient{}
	a := NewAssembler(NewRetriever(client, WithClock(fixedClock(testNow))), nil)

	params := []index.Params{{ID: "kb1"}}
	if got := a.Assemble(context.Background(), nil, "", params, RecencyConfig{}); got != nil {
		t.Errorf("expected nil for no questions, got %v", got)
	}
	if got := a.Assemble(context.Background(), []string{"q"}, "", nil, RecencyConfig{}); got != nil {
		t.Errorf("expected nil for no indexes, got %v", got)
	}
	if client.searchCalls != 0 {
		t.Errorf("expected no retrieval calls, got %d", client.searchCalls)
	}
}

func TestAssemble_DuplicateQuestionsAreIdempotent(t *testing.T) {
	client := &fakeClient{
		searchResults: map[string][]index.Chunk{
			"kb1": {
				{ID: "c1", Content: "alpha", Score: 0.9},
				{ID: "c2", Content: "beta", Score: 0.8},
			},
		},
	}
	a := NewAssembler(NewRetriever(client, WithClock(fixedClock(testNow))), nil)
	params := []index.Params{{ID: "kb1"}}

	once := a.Assemble(context.Background(), []string{"q"}, "", params, RecencyConfig{})
	twice := a.Assemble(context.Background(), []string{"q", "q"}, "", params, RecencyConfig{})

	if len(once) != len(twice) {
		t.Fatalf("duplicate question changed result size: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("reference %d differs: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestAssemble_MergesAcrossIndexes(t *testing.T) {
	client := &fakeClient{
		searchResults: map[string][]index.Chunk{
			"kb1": {{ID: "a", Content: "from kb1", Score: 0.9}},
			"kb2": {{ID: "b", Content: "from kb2", Score: 0.95}},
		},
	}
	a := NewAssembler(NewRetriever(client, WithClock(fixedClock(testNow))), nil)
	params := []index.Params{{ID: "kb1"}, {ID: "kb2"}}

	got := a.Assemble(context.Background(), []string{"q"}, "", params, RecencyConfig{})
	if len(got) != 2 {
		t.Fatalf("expected 2 references, got %d", len(got))
	}
	if got[0].Content != "from kb2" {
		t.Errorf("expected highest score first, got %q", got[0].Content)
	}
	for i, ref := range got {
		if ref.ID != i+1 {
			t.Errorf("expected 1-based sequential ids, got %d at position %d", ref.ID, i)
		}
	}
}

func TestAssemble_FailingPairIsIsolated(t *testing.T) {
	healthy := &fakeClient{
		searchResults: map[string][]index.Chunk{
			"good": {{ID: "a", Content: "survivor", Score: 0.9}},
		},
	}
	client := &failingIndexClient{fakeClient: healthy, failID: "bad"}
	a := NewAssembler(NewRetriever(client, WithClock(fixedClock(testNow))), nil)
	params := []index.Params{{ID: "good"}, {ID: "bad"}}

	got := a.Assemble(context.Background(), []string{"q"}, "", params, RecencyConfig{})
	if len(got) != 1 || got[0].Content != "survivor" {
		t.Errorf("expected the healthy index to still contribute, got %+v", got)
	}
}

// failingIndexClient fails searches against one index id and delegates the
// rest.
type failingIndexClient struct {
	*fakeClient
	failID string
}

func (f *failingIndexClient) Search(ctx context.Context, params index.Params, query string) ([]index.Chunk, error) {
	if params.ID == f.failID {
		return nil, errors.New("index unavailable")
	}
	return f.fakeClient.Search(ctx, params, query)
}

func TestAssemble_ReferenceTypeFollowsArtifact(t *testing.T) {
	client := &fakeClient{
		searchResults: map[string][]index.Chunk{
			"kb1": {
				{ID: "a", Content: "local file", Score: 0.9, SourceLocator: "file:///notes/a.md"},
				{ID: "b", Content: "web page", Score: 0.8, SourceLocator: "https://example.com/b"},
			},
		},
	}
	// Only the local file resolves to an artifact.
	fileOnly := resolverFunc(func(ctx context.Context, locator string) (*artifact.Metadata, error) {
		if locator == "file:///notes/a.md" {
			return &artifact.Metadata{Name: "a.md", Locator: locator}, nil
		}
		return nil, nil
	})
	a := NewAssembler(NewRetriever(client, WithClock(fixedClock(testNow)), WithResolver(fileOnly)), nil)

	got := a.Assemble(context.Background(), []string{"q"}, "", []index.Params{{ID: "kb1"}}, RecencyConfig{})
	if len(got) != 2 {
		t.Fatalf("expected 2 references, got %d", len(got))
	}
	if got[0].Type != ReferenceTypeFile {
		t.Errorf("resolved locator should be typed %q, got %q", ReferenceTypeFile, got[0].Type)
	}
	if got[1].Type != ReferenceTypeURL {
		t.Errorf("unresolved locator should be typed %q, got %q", ReferenceTypeURL, got[1].Type)
	}
}
