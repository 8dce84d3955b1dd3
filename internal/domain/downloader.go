package domain

import (
	"fmt"
	"net/url"
)

// Request describes what the transport should fetch.
type Request struct {
	URL    string            `json:"url" yaml:"url"`
	Header map[string]string `json:"header,omitempty" yaml:"header,omitempty"`
}

// NewRequest builds a Request for a plain GET of rawURL.
func NewRequest(rawURL string) Request {
	return Request{URL: rawURL}
}

// Validate makes sure the URL is absolute and uses a scheme the transport understands.
func (r Request) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", r.URL)
	}
	return nil
}

// Clone returns a copy whose header map can be modified independently.
func (r Request) Clone() Request {
	c := Request{URL: r.URL}
	if len(r.Header) > 0 {
		c.Header = make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			c.Header[k] = v
		}
	}
	return c
}
