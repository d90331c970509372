package pipeline

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what a failing unit does to the rest of the batch.
type FailurePolicy string

const (
	// Abort fails the whole request on the first failing unit. No output is produced.
	Abort FailurePolicy = "abort"
	// Skip records the failure and continues with the remaining units.
	Skip FailurePolicy = "skip"
)

// ParsePolicy validates a policy name. The empty string selects Abort.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Abort:
		return Abort, nil
	case Skip:
		return Skip, nil
	}
	return "", fmt.Errorf("invalid failure policy '%s'. Must be 'abort' or 'skip'", s)
}
