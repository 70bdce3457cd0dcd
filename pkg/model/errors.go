package model

import "errors"

// Sentinel error values for the package's error taxonomy. Components wrap
// these with fmt.Errorf("...: %w", Err...) so callers can classify a
// failure with errors.Is without parsing strings.
var (
	// ErrValidation marks malformed client input. Always a 4xx at the HTTP
	// boundary; never enters the pipeline.
	ErrValidation = errors.New("validation error")

	// ErrTransientStorage marks a storage failure expected to succeed on
	// retry (connection drop, deadlock). Bounded retries happen at the
	// operation that raised it.
	ErrTransientStorage = errors.New("transient storage error")

	// ErrUniqueConstraint marks a dedupe-index conflict. Handled entirely by
	// AlertDeduper's retry-and-lookup path; never surfaced past it.
	ErrUniqueConstraint = errors.New("unique constraint conflict")

	// ErrSinkDelivery marks a failed outbound delivery to an AlertSink. The
	// alert remains unsent; the dispatcher reconsiders it next cycle.
	ErrSinkDelivery = errors.New("sink delivery error")

	// ErrConfig marks a missing or invalid required configuration value.
	// Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrInvariant marks an internal invariant violation (e.g. a trace map
	// missing an entry mid-loop). Logged at error level; the offending
	// record is skipped, the process continues.
	ErrInvariant = errors.New("internal invariant violation")
)
