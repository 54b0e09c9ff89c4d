package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrHandshake is wrapped by every failed push subscription attempt
var ErrHandshake = errors.New("webhook handshake failed")

// Subscriber registers this service's webhook callback with provider streams
type Subscriber struct {
	client  *http.Client
	timeout time.Duration
}

func NewSubscriber(client *http.Client, timeout time.Duration) *Subscriber {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Subscriber{client: client, timeout: timeout}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Subscribe POSTs {"endpoint": callbackURL} to the stream's subscribe
// endpoint. Only a 200 response counts as success.
func (s *Subscriber) Subscribe(ctx context.Context, stream Stream, callbackURL string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body, err := json.Marshal(subscribeRequest{Endpoint: callbackURL})
	if err != nil {
		return fmt.Errorf("%w: encoding body: %w", ErrHandshake, err)
	}

	target := stream.SubscribeURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request for %s: %w", ErrHandshake, target, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %w", ErrHandshake, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: POST %s: status %d", ErrHandshake, target, resp.StatusCode)
	}
	return nil
}

// CallbackURL returns the webhook address a provider should push a stream's
// items to.
func CallbackURL(serviceBaseURL string, stream Stream) string {
	return fmt.Sprintf("%s/webhooks/%s", strings.TrimRight(serviceBaseURL, "/"), url.PathEscape(stream.Name))
}

// HandshakeReport summarises one handshake run over all streams
type HandshakeReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// SubscribeAll runs the handshake for every stream concurrently. A failing
// stream is logged and reported; it never blocks the others.
func (s *Subscriber) SubscribeAll(ctx context.Context, streams []Stream, serviceBaseURL string) HandshakeReport {
	errs := make([]error, len(streams))

	var wg sync.WaitGroup
	for i, stream := range streams {
		wg.Add(1)
		go func(i int, stream Stream) {
			defer wg.Done()
			errs[i] = s.Subscribe(ctx, stream, CallbackURL(serviceBaseURL, stream))
		}(i, stream)
	}
	wg.Wait()

	report := HandshakeReport{Succeeded: []string{}, Failed: map[string]string{}}
	for i, stream := range streams {
		if err := errs[i]; err != nil {
			handshakes.WithLabelValues(stream.String(), "error").Inc()
			log.WithFields(log.Fields{
				"stream": stream.String(),
				"error":  err,
			}).Warn("Webhook handshake failed")
			report.Failed[stream.String()] = err.Error()
			continue
		}
		handshakes.WithLabelValues(stream.String(), "ok").Inc()
		report.Succeeded = append(report.Succeeded, stream.String())
	}

	log.WithFields(log.Fields{
		"succeeded": len(report.Succeeded),
		"failed":    len(report.Failed),
	}).Info("Webhook handshake finished")

	return report
}
