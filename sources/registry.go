package sources

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"streamhub/config"
)

// Stream is a named content channel belonging to one provider
type Stream struct {
	Provider string
	BaseURL  string
	Name     string
}

// FetchURL returns {baseUrl}/{stream}/?limit=N
func (s Stream) FetchURL(limit int) string {
	return fmt.Sprintf("%s/%s/?limit=%s", s.BaseURL, url.PathEscape(s.Name), strconv.Itoa(limit))
}

// SubscribeURL returns {baseUrl}/subscribe/{stream}
func (s Stream) SubscribeURL() string {
	return fmt.Sprintf("%s/subscribe/%s", s.BaseURL, url.PathEscape(s.Name))
}

func (s Stream) String() string {
	return s.Provider + "/" + s.Name
}

// Registry is the static list of provider streams. It is never mutated after
// construction.
type Registry struct {
	streams []Stream
}

func NewRegistry(providers []config.Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	var streams []Stream
	names := map[string]bool{}
	// Stream names key webhook paths and stored items, so they are global
	owners := map[string]string{}
	for _, p := range providers {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("provider with base url %q has no name", p.BaseURL)
		}
		if names[p.Name] {
			return nil, fmt.Errorf("duplicate provider %q", p.Name)
		}
		names[p.Name] = true

		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("provider %q: base url %q must be an absolute http(s) url", p.Name, p.BaseURL)
		}
		if len(p.Streams) == 0 {
			return nil, fmt.Errorf("provider %q has no streams", p.Name)
		}

		seen := map[string]bool{}
		for _, name := range p.Streams {
			if strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("provider %q has an empty stream name", p.Name)
			}
			if seen[name] {
				return nil, fmt.Errorf("provider %q lists stream %q twice", p.Name, name)
			}
			seen[name] = true
			if owner, ok := owners[name]; ok {
				return nil, fmt.Errorf("stream %q is listed by both %q and %q", name, owner, p.Name)
			}
			owners[name] = p.Name
			streams = append(streams, Stream{
				Provider: p.Name,
				BaseURL:  strings.TrimRight(p.BaseURL, "/"),
				Name:     name,
			})
		}
	}

	return &Registry{streams: streams}, nil
}

// Streams returns every (provider, stream) pair in configuration order
func (r *Registry) Streams() []Stream {
	out := make([]Stream, len(r.streams))
	copy(out, r.streams)
	return out
}

func (r *Registry) Len() int {
	return len(r.streams)
}
