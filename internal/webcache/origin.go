package webcache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// OriginClient fetches resources from the application origin on behalf of
// the gateway. When a bearer token is configured it is attached to every
// origin request.
type OriginClient struct {
	base   *url.URL
	client *http.Client
	token  string
}

// NewOriginClient creates a client for the given origin base URL.
func NewOriginClient(baseURL, token string) (*OriginClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &OriginClient{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
		token:  token,
	}, nil
}

// Do forwards an inbound request to the origin, preserving method, headers
// and body. The caller owns the response body.
func (o *OriginClient) Do(r *http.Request) (*http.Response, error) {
	target := *o.base
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	return o.client.Do(req)
}

// FetchSnapshot GETs one origin path and returns the full response as a
// cacheable snapshot. Transport errors are returned as-is; non-2xx
// responses are returned as snapshots for the caller to judge.
func (o *OriginClient) FetchSnapshot(ctx context.Context, requestURI string) (Snapshot, error) {
	ref, err := url.Parse(requestURI)
	if err != nil {
		return Snapshot{}, err
	}
	target := o.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Snapshot{}, err
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// cacheable reports whether a snapshot may be written to cache.
// Only successful responses are ever stored.
func cacheable(snap Snapshot) bool {
	return snap.Status >= 200 && snap.Status < 300
}
