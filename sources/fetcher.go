package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"streamhub/models"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrTransient covers timeouts, transport failures and non-200 responses.
	// The stream produced no data on this call.
	ErrTransient = errors.New("transient fetch error")

	// ErrValidation means the stream answered but at least one item did not
	// match the item schema. The whole response is discarded.
	ErrValidation = errors.New("stream payload failed validation")
)

const (
	// DefaultFetchLimit is the number of most recent items requested per stream
	DefaultFetchLimit = 20

	maxResponseBytes = 10 << 20
)

// NewHTTPClient returns the client shared by all calls of one aggregation pass
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 5 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Fetcher retrieves the most recent items of a stream
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	limit   int
}

func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Fetcher{client: client, timeout: timeout, limit: DefaultFetchLimit}
}

// Fetch performs one timeout-guarded GET against the stream. A nil error with
// an empty slice means the stream is healthy but has nothing to offer; any
// failure is reported as an error wrapping ErrTransient or ErrValidation.
func (f *Fetcher) Fetch(ctx context.Context, stream Stream) ([]models.Item, error) {
	items, err := f.fetch(ctx, stream)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	case len(items) == 0:
		outcome = "empty"
	}
	streamFetches.WithLabelValues(stream.String(), outcome).Inc()

	return items, err
}

func (f *Fetcher) fetch(ctx context.Context, stream Stream) ([]models.Item, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	url := stream.FetchURL(f.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %w", ErrTransient, url, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransient, url, err)
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"stream":  stream.String(),
		"status":  resp.StatusCode,
		"latency": time.Since(start),
	}).Debug("Fetched stream")

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrTransient, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransient, url, err)
	}

	items, err := models.ParseItems(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrValidation, stream, err)
	}

	return items, nil
}
