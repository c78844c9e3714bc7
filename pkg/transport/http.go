package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return "upstream " + e.URL + " returned " + http.StatusText(e.StatusCode) + ": " + e.Body
}

func openStream(ctx context.Context, client *http.Client, url, accept string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "open stream %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(url, resp)
	}
	return resp, nil
}

func statusError(url string, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}
