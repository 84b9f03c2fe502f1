package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for job construction.
var (
	// ErrDuplicateName indicates two jobs in one batch share a name.
	ErrDuplicateName = errors.New("duplicate job name")

	// ErrEmptyChain indicates Concat was called without jobs.
	ErrEmptyChain = errors.New("empty job chain")
)

// DuplicateJobNameError reports a name collision within a batch.
type DuplicateJobNameError struct {
	// Name is the colliding job name.
	Name string

	// First and Second are the declaration indexes of the two jobs.
	First  int
	Second int
}

func (e *DuplicateJobNameError) Error() string {
	return fmt.Sprintf("duplicate job name %q (jobs #%d and #%d)", e.Name, e.First, e.Second)
}

// Unwrap returns ErrDuplicateName for errors.Is support.
func (e *DuplicateJobNameError) Unwrap() error {
	return ErrDuplicateName
}

// EmptyChainError is returned by Concat when there is nothing to compose.
// Callers may recover by skipping the chain or substituting a no-op job.
type EmptyChainError struct {
	// Chain is the requested chain name, possibly empty.
	Chain string
}

func (e *EmptyChainError) Error() string {
	if e.Chain == "" {
		return "cannot compose an empty job chain"
	}
	return fmt.Sprintf("cannot compose empty job chain %q", e.Chain)
}

// Unwrap returns ErrEmptyChain for errors.Is support.
func (e *EmptyChainError) Unwrap() error {
	return ErrEmptyChain
}

// CheckUniqueNames returns a DuplicateJobNameError for the first repeated
// name in jobs.
func CheckUniqueNames(jobs []*Job) error {
	seen := make(map[string]int, len(jobs))
	for i, j := range jobs {
		if first, ok := seen[j.Name]; ok {
			return &DuplicateJobNameError{Name: j.Name, First: first, Second: i}
		}
		seen[j.Name] = i
	}
	return nil
}
