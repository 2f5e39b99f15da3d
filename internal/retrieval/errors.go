package retrieval

import "fmt"

// RetrievalError reports a failed retrieval for one (query, index) pair.
// It wraps the underlying cause, so index.ErrGone stays detectable through
// errors.Is.
type RetrievalError struct {
	Query   string
	IndexID string
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for query %q on index %s: %v", e.Query, e.IndexID, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// RerankError reports a failed second-pass rerank. The pipeline logs it and
// keeps the first-pass order; it never aborts a retrieval on its own.
type RerankError struct {
	Err error
}

func (e *RerankError) Error() string {
	return fmt.Sprintf("rerank failed: %v", e.Err)
}

func (e *RerankError) Unwrap() error {
	return e.Err
}
