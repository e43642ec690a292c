package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// MaxRedirects bounds how many hops a fetch may follow.
	MaxRedirects = 5

	// requestTimeout covers the whole fetch including every redirect hop,
	// so a slow redirect chain cannot hang a tool call.
	requestTimeout = 30 * time.Second

	maxBodyBytes = 5 * 1024 * 1024

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36"
)

// Response is the final hop of a validated fetch.
type Response struct {
	StatusCode  int
	FinalURL    string
	ContentType string
	Body        []byte
}

// Fetcher performs GETs with redirects handled manually: the transport
// never follows a Location header itself, each target is re-validated
// before the next request goes out.
type Fetcher struct {
	client   *http.Client
	validate func(string) error
}

func NewFetcher(v *Validator) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		validate: v.Validate,
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Fetch GETs rawURL, following up to MaxRedirects validated hops.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	current := rawURL
	for redirects := 0; ; redirects++ {
		if redirects > MaxRedirects {
			return nil, fmt.Errorf("too many redirects (max %d)", MaxRedirects)
		}

		if err := f.validate(current); err != nil {
			if redirects == 0 {
				return nil, fmt.Errorf("URL validation failed: %w", err)
			}
			return nil, fmt.Errorf("redirect target validation failed: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("redirect response missing Location header")
			}
			next, err := resolveLocation(current, loc)
			if err != nil {
				return nil, err
			}
			current = next
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		return &Response{
			StatusCode:  resp.StatusCode,
			FinalURL:    current,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		}, nil
	}
}

// resolveLocation makes a Location header absolute against the URL that
// issued the redirect.
func resolveLocation(base, loc string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	next, err := baseURL.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("invalid redirect location: %w", err)
	}
	return next.String(), nil
}
