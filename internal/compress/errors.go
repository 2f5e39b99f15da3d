package compress

import "fmt"

// PolicyError reports a compression policy missing a required field. It is
// raised before any network call is attempted.
type PolicyError struct {
	Field string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("compression policy missing %s", e.Field)
}

// OperationError reports a failed compression operation. Compression is
// all-or-nothing: any failing step aborts the whole operation, and the
// caller falls back to the uncompressed raw results.
type OperationError struct {
	OperationID string
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("compression failed for operation %s: %v", e.OperationID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
