package vault

// errors.go defines the sentinel errors and the structured-error sink.
//
// Propagation policy: read-path failures self-heal — the caller gets a nil
// value and the offending record is removed asynchronously, after the error
// is reported through the sink. Write-path failures are fail-fast — they
// propagate to the caller in addition to being reported. No internal error
// terminates the process.

import "errors"

// Common errors returned by engine operations.
// Use errors.Is to classify wrapped errors against these sentinels.
var (
	// ErrClosed is returned when operating on a closed engine.
	ErrClosed = errors.New("vault: engine is closed")

	// ErrInit wraps directory, lock, or store initialization failures.
	ErrInit = errors.New("vault: initialization failed")

	// ErrCorruption marks corrupt record bytes or an unsupported codec
	// version. Always recoverable: the record is treated as absent.
	ErrCorruption = errors.New("vault: corrupt record")

	// ErrEncryption wraps Encryptor failures.
	ErrEncryption = errors.New("vault: encryption failure")

	// ErrKeyConflict is returned when a key is re-registered with an
	// incompatible configuration for the same identifier.
	ErrKeyConflict = errors.New("vault: key registered with incompatible options")

	// ErrSuperseded marks a debounced operation canceled by a newer
	// operation for the same identifier. Callers that observe the neutral
	// superseded outcome never see this error; it exists for result types
	// that cannot represent a neutral value.
	ErrSuperseded = errors.New("vault: operation superseded")
)

// ErrorSink is the single funnel for observability of internal errors.
// Every reported error passes through it exactly once, including errors
// that are also returned to a caller.
//
// Contract: an ErrorSink must be safe for concurrent use and must not panic.
type ErrorSink func(error)
