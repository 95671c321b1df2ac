package deliverables

import "errors"

var (
	// ErrProviderUnavailable indicates the metadata provider is not configured.
	ErrProviderUnavailable = errors.New("deliverable metadata provider unavailable")
	// ErrUnsupportedLink indicates a work link that is not an absolute http(s) URL.
	ErrUnsupportedLink = errors.New("unsupported deliverable link")
)
