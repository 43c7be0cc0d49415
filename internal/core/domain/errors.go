package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not available for this variant.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedProvider indicates a source URL maps to no known host family.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// Import errors.

	// ErrAuth indicates a bad or missing token. Fatal, never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrOwnership indicates the repository is not owned and forking is not permitted.
	ErrOwnership = errors.New("repository not owned and fork not permitted")

	// ErrRateLimited indicates the host rate limit was hit.
	// Recoverable until retries are exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientHost indicates a 5xx or network failure.
	ErrTransientHost = errors.New("transient host error")

	// ErrHostRequest indicates a non-retriable host response other than auth or not-found.
	ErrHostRequest = errors.New("host request failed")

	// ErrConversion indicates a single malformed upstream item. The item is skipped.
	ErrConversion = errors.New("conversion failed")

	// ErrPublish indicates a single event failed to publish. Counted, not retried.
	ErrPublish = errors.New("publish failed")

	// ErrCancellationRequested indicates a graceful stop that still flushed pending events.
	ErrCancellationRequested = errors.New("cancellation requested")

	// ErrNoSignerAvailable indicates no signing identity is active.
	ErrNoSignerAvailable = errors.New("no signer available")

	// ErrForkTimeout indicates a fork never became fetchable.
	ErrForkTimeout = errors.New("fork did not become available")

	// Git engine errors.

	// ErrGitOperation indicates the local git engine reported a failure.
	ErrGitOperation = errors.New("git operation failed")
)

// IsFatalImportError reports whether err aborts an import immediately.
func IsFatalImportError(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrOwnership) ||
		errors.Is(err, ErrNoSignerAvailable) || errors.Is(err, ErrUnsupportedProvider) ||
		errors.Is(err, ErrInvalidInput)
}
