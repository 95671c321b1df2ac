package deliverables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// YTDLPProvider fetches deliverable metadata using the yt-dlp CLI tool.
type YTDLPProvider struct {
	Binary  string
	Args    []string
	Run     CommandRunner
	Timeout time.Duration
}

// NewYTDLPProvider constructs a Provider that shells out to yt-dlp.
func NewYTDLPProvider(binary string, timeout time.Duration) *YTDLPProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPProvider{
		Binary:  binary,
		Args:    []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download"},
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// ValidateLink checks that link is an absolute http or https URL.
func ValidateLink(link string) error {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil || parsed.Host == "" {
		return ErrUnsupportedLink
	}
	switch parsed.Scheme {
	case "http", "https":
		return nil
	}
	return ErrUnsupportedLink
}

// Lookup executes yt-dlp for the provided link and parses the JSON response.
func (p *YTDLPProvider) Lookup(ctx context.Context, link string) (Metadata, error) {
	if p == nil {
		return Metadata{}, ErrProviderUnavailable
	}
	if err := ValidateLink(link); err != nil {
		return Metadata{}, err
	}

	run := p.Run
	if run == nil {
		run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := append([]string{}, p.Args...)
	// "--" keeps a link starting with a dash from being read as a flag.
	args = append(args, "--", link)

	out, err := run(execCtx, p.Binary, args...)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp fetch: %w", err)
	}

	var payload struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Thumbnail   string  `json:"thumbnail"`
		Uploader    string  `json:"uploader"`
		Duration    float64 `json:"duration"`
		ViewCount   int64   `json:"view_count"`
		WebpageURL  string  `json:"webpage_url"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Metadata{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}

	if payload.Title == "" && payload.Description == "" && payload.Thumbnail == "" {
		return Metadata{}, errors.New("yt-dlp returned empty metadata")
	}

	canonical := payload.WebpageURL
	if canonical == "" {
		canonical = link
	}

	return Metadata{
		URL:         canonical,
		Title:       payload.Title,
		Description: payload.Description,
		Thumbnail:   payload.Thumbnail,
		Uploader:    payload.Uploader,
		Duration:    int64(payload.Duration),
		ViewCount:   payload.ViewCount,
	}, nil
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}
