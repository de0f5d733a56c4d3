package domain

import "errors"

// Error classes for the pipeline. Callers classify with errors.Is;
// wrapping preserves the class through fmt.Errorf("%w").
var (
	// ErrDetection: the content surface could not be sampled. Transient,
	// counts toward the dispatch loop's consecutive-error cap.
	ErrDetection = errors.New("detection error")

	// ErrExtraction: a change was detected but the content is unreadable.
	// Logged, baseline refreshed, no task enqueued.
	ErrExtraction = errors.New("extraction error")

	// ErrConditionEvaluation: a rule's condition failed to evaluate.
	// Isolated to that rule; matching continues for the rest.
	ErrConditionEvaluation = errors.New("condition evaluation error")

	// ErrActionExecution: a send/forward/notify or AI call failed.
	// Retried under the task queue policy.
	ErrActionExecution = errors.New("action execution error")

	// ErrConfiguration: an invalid rule definition or missing required
	// field. Rejected at load or execution time, never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrFatal: the loop has given up. The only class that ends the process.
	ErrFatal = errors.New("fatal error")
)
