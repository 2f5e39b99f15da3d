package compress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loomchat/knowledge/internal/embedder"
	"github.com/loomchat/knowledge/internal/index"
	"github.com/loomchat/knowledge/internal/reranker"
)

// fakeIndex records index.Client calls and serves scripted search results.
type fakeIndex struct {
	mu sync.Mutex

	chunks    []index.Chunk
	createErr error
	resetErr  error
	addErr    error
	searchErr error
	deleteErr error

	creates  []index.Params
	deletes  []string
	adds     []index.Document
	searches []string
	sequence []string

	// deleteStarted, when set, receives each index id as its delete begins;
	// deleteGate, when set, parks every delete until the gate is closed.
	deleteStarted chan string
	deleteGate    chan struct{}
}

func (f *fakeIndex) Create(ctx context.Context, params index.Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, params)
	f.sequence = append(f.sequence, "create")
	return f.createErr
}

func (f *fakeIndex) Reset(ctx context.Context, params index.Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence = append(f.sequence, "reset")
	return f.resetErr
}

func (f *fakeIndex) Add(ctx context.Context, params index.Params, doc index.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, doc)
	f.sequence = append(f.sequence, "add")
	return f.addErr
}

func (f *fakeIndex) Search(ctx context.Context, params index.Params, query string) ([]index.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	f.sequence = append(f.sequence, "search")
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.chunks, nil
}

func (f *fakeIndex) Rerank(ctx context.Context, params index.Params, query string, chunks []index.Chunk) ([]index.Chunk, error) {
	return chunks, nil
}

func (f *fakeIndex) Delete(ctx context.Context, indexID string) error {
	if f.deleteStarted != nil {
		f.deleteStarted <- indexID
	}
	if f.deleteGate != nil {
		<-f.deleteGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, indexID)
	f.sequence = append(f.sequence, "delete")
	return f.deleteErr
}

var _ index.Client = (*fakeIndex)(nil)

func (f *fakeIndex) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeIndex) created() []index.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]index.Params(nil), f.creates...)
}

// waitFor polls cond until it holds or the deadline passes. Used for the
// asynchronous disposal paths.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func testPolicy(model string) Policy {
	return Policy{
		Embedding: embedder.Config{
			Provider:  embedder.ProviderOllama,
			Model:     model,
			Dimension: 768,
		},
	}
}

func TestEnsure_ReusesMatchingIndex(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client)

	first, err := m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("same policy should reuse the index: %q vs %q", first.ID, second.ID)
	}
	if got := len(client.created()); got != 1 {
		t.Errorf("expected exactly 1 create, got %d", got)
	}
	if got := len(client.deleted()); got != 0 {
		t.Errorf("expected no deletes, got %v", client.deleted())
	}
}

func TestEnsure_ModelChangeReplacesIndex(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client)

	first, err := m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.Ensure(context.Background(), "op1", testPolicy("mxbai-embed-large"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID == second.ID {
		t.Error("changed embedding model must produce a fresh index")
	}
	deleted := client.deleted()
	if len(deleted) != 1 || deleted[0] != first.ID {
		t.Errorf("expected exactly the superseded index deleted, got %v", deleted)
	}
	if m.Len() != 1 {
		t.Errorf("expected one live entry, got %d", m.Len())
	}
}

func TestEnsure_RerankChangeReplacesIndex(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client)

	withRerank := testPolicy("nomic-embed-text")
	withRerank.Rerank = &reranker.Config{Provider: reranker.ProviderOllama, Model: "qwen3:4b"}

	first, err := m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.Ensure(context.Background(), "op1", withRerank, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == second.ID {
		t.Error("adding a reranker must produce a fresh index")
	}
}

func TestEnsure_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	client := &fakeIndex{}
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(client,
		WithCapacity(1),
		WithManagerClock(func() time.Time { return current }),
	)

	first, err := m.Ensure(context.Background(), "op-a", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current = current.Add(time.Second)
	if _, err := m.Ensure(context.Background(), "op-b", testPolicy("nomic-embed-text"), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Len() != 1 {
		t.Errorf("expected capacity to hold, got %d entries", m.Len())
	}
	waitFor(t, func() bool {
		return len(client.deleted()) == 1
	})
	if deleted := client.deleted(); deleted[0] != first.ID {
		t.Errorf("expected op-a's index evicted, got %v", deleted)
	}
}

func TestEnsure_IdleEntriesSweptAfterTTL(t *testing.T) {
	client := &fakeIndex{}
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(client,
		WithTTL(time.Minute),
		WithManagerClock(func() time.Time { return current }),
	)

	stale, err := m.Ensure(context.Background(), "op-a", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := m.Ensure(context.Background(), "op-b", testPolicy("nomic-embed-text"), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Len() != 1 {
		t.Errorf("expected the idle entry swept, got %d entries", m.Len())
	}
	waitFor(t, func() bool {
		return len(client.deleted()) == 1
	})
	if deleted := client.deleted(); deleted[0] != stale.ID {
		t.Errorf("expected the idle index deleted, got %v", deleted)
	}
}

func TestEnsure_TouchRefreshesTTL(t *testing.T) {
	client := &fakeIndex{}
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(client,
		WithTTL(time.Minute),
		WithManagerClock(func() time.Time { return current }),
	)

	policy := testPolicy("nomic-embed-text")
	if _, err := m.Ensure(context.Background(), "op-a", policy, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Keep touching op-a inside the TTL; it must survive every sweep.
	for i := 0; i < 3; i++ {
		current = current.Add(45 * time.Second)
		if _, err := m.Ensure(context.Background(), "op-a", policy, 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := len(client.created()); got != 1 {
		t.Errorf("expected the original index to survive, got %d creates", got)
	}
	if got := len(client.deleted()); got != 0 {
		t.Errorf("expected no deletes, got %v", client.deleted())
	}
}

func TestEnsure_InvalidPolicyRejectedBeforeAnyCall(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client)

	_, err := m.Ensure(context.Background(), "op1", Policy{}, 3)
	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PolicyError, got %v", err)
	}
	if perr.Field != "embedding.model" {
		t.Errorf("expected embedding.model flagged, got %q", perr.Field)
	}
	if len(client.created()) != 0 {
		t.Error("invalid policy must not touch the index backend")
	}
}

func TestEnsure_CreateFailureLeavesNoEntry(t *testing.T) {
	client := &fakeIndex{createErr: errors.New("qdrant unavailable")}
	m := NewManager(client)

	if _, err := m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3); err == nil {
		t.Fatal("expected create failure to surface")
	}
	if m.Len() != 0 {
		t.Errorf("failed create must not cache an entry, got %d", m.Len())
	}
}

func TestEnsure_ConcurrentEnsureCreatesOnce(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(client.created()); got != 1 {
		t.Errorf("concurrent calls for one operation must create once, got %d", got)
	}
}

func TestEnsure_ReplacementRaceDeletesIndexOnce(t *testing.T) {
	client := &fakeIndex{
		deleteStarted: make(chan string, 4),
		deleteGate:    make(chan struct{}),
	}
	m := NewManager(client, WithCapacity(1))

	stale, err := m.Ensure(context.Background(), "op-a", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Replace op-a's index with a different embedding model. The synchronous
	// delete parks on the gate, holding the replacement window open.
	var replaceErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, replaceErr = m.Ensure(context.Background(), "op-a", testPolicy("mxbai-embed-large"), 3)
	}()
	if got := <-client.deleteStarted; got != stale.ID {
		t.Fatalf("expected the superseded index deleted first, got %q", got)
	}

	// A second operation at capacity 1 while the replacement is mid-flight.
	// It must not find op-a's claimed entry and dispose the same index again.
	second, err := m.Ensure(context.Background(), "op-b", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	close(client.deleteGate)
	<-done
	if replaceErr != nil {
		t.Fatalf("replacement failed: %v", replaceErr)
	}

	// op-a's new index displaces op-b, so op-b's index is disposed too.
	waitFor(t, func() bool {
		return len(client.deleted()) == 2
	})
	counts := make(map[string]int)
	for _, id := range client.deleted() {
		counts[id]++
	}
	if counts[stale.ID] != 1 {
		t.Errorf("superseded index deleted %d times, want exactly once", counts[stale.ID])
	}
	if counts[second.ID] != 1 {
		t.Errorf("evicted index deleted %d times, want exactly once", counts[second.ID])
	}
}

func TestEnsure_OperationLocksDoNotAccumulate(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client, WithCapacity(2))

	for _, op := range []string{"a", "b", "c", "d", "e"} {
		if _, err := m.Ensure(context.Background(), op, testPolicy("nomic-embed-text"), 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	m.mu.Lock()
	held := len(m.opLocks)
	m.mu.Unlock()
	if held != 0 {
		t.Errorf("expected no retained operation locks, got %d", held)
	}
}

func TestForget_DisposesIndex(t *testing.T) {
	client := &fakeIndex{}
	m := NewManager(client)

	params, err := m.Ensure(context.Background(), "op1", testPolicy("nomic-embed-text"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Forget("op1")
	if m.Len() != 0 {
		t.Errorf("expected empty cache after Forget, got %d", m.Len())
	}
	waitFor(t, func() bool {
		deleted := client.deleted()
		return len(deleted) == 1 && deleted[0] == params.ID
	})
}
