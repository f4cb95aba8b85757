package biogram

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/biogram-cli/internal/profile"
)

// Configuration errors abort a run before any output is produced.
var (
	ErrMissingOrganismColumn = errors.New("no organism column configured")
	ErrMissingDedupKeys      = errors.New("no deduplication keys given")
	ErrMissingDateColumn     = errors.New("no date column configured")
	ErrUnknownColumn         = errors.New("unknown column")
	ErrInvalidCutoff         = errors.New("cutoff must not be negative")
)

// ErrEmptyResult means the run was valid but no group reached the isolate cutoff.
var ErrEmptyResult = errors.New("antibiogram contains no data")

// IntegrityError reports a fact row that breaks the flattened-table invariants.
// It indicates a defect upstream and is never recoverable by changing parameters.
type IntegrityError struct {
	Row    int
	Field  string
	Detail string
}

func (e *IntegrityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("data integrity: fact %d: %s %s", e.Row, e.Field, e.Detail)
	}
	return fmt.Sprintf("data integrity: fact %d: empty %s", e.Row, e.Field)
}

// Error kinds returned by Kind.
const (
	KindSchemaMismatch = "schema_mismatch"
	KindConfiguration  = "configuration"
	KindEmptyResult    = "empty_result"
	KindIntegrity      = "integrity"
	KindUnknown        = "unknown"
)

// Kind classifies a pipeline error so callers can choose an actionable message.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var ie *IntegrityError
	switch {
	case errors.Is(err, profile.ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrEmptyResult):
		return KindEmptyResult
	case errors.As(err, &ie):
		return KindIntegrity
	case errors.Is(err, ErrMissingOrganismColumn),
		errors.Is(err, ErrMissingDedupKeys),
		errors.Is(err, ErrMissingDateColumn),
		errors.Is(err, ErrUnknownColumn),
		errors.Is(err, ErrInvalidCutoff),
		errors.Is(err, profile.ErrInvalidProfile):
		return KindConfiguration
	}
	return KindUnknown
}
