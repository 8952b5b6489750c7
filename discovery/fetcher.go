package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/cids/internal/errors"
)

const maxResponseBytes = 4 << 20

// Fetcher retrieves an application's discovery document.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) (*Response, error)
}

// HTTPFetcher performs a GET against the discovery endpoint. The caller's
// context bounds the request.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, endpoint string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDiscoveryFetch, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(errors.ErrDiscoveryTimeout, "%s", endpoint)
		}
		return nil, errors.Wrapf(errors.ErrDiscoveryFetch, "%s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrDiscoveryFetch, "%s returned status %d", endpoint, resp.StatusCode)
	}

	var doc Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&doc); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(errors.ErrDiscoveryTimeout, "%s", endpoint)
		}
		return nil, errors.Wrapf(errors.ErrSchemaInvalid, "decode %s: %v", endpoint, err)
	}
	return &doc, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, endpoint string) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, endpoint string) (*Response, error) {
	return f(ctx, endpoint)
}

func (r *Response) String() string {
	return fmt.Sprintf("%s v%s (%d endpoints)", r.AppID, r.Version, len(r.Endpoints))
}
