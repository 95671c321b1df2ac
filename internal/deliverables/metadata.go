package deliverables

import "context"

// Metadata is the preview shown for a deal's published deliverable.
type Metadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Uploader    string `json:"uploader,omitempty"`
	Duration    int64  `json:"durationSeconds,omitempty"`
	ViewCount   int64  `json:"viewCount,omitempty"`
}

// Provider returns metadata for the supplied work link.
type Provider interface {
	Lookup(ctx context.Context, url string) (Metadata, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, url string) (Metadata, error)

// Lookup implements Provider.
func (f ProviderFunc) Lookup(ctx context.Context, url string) (Metadata, error) {
	return f(ctx, url)
}
