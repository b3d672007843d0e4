package auth

import (
	"context"
	"net/http"
)

// TokenSource supplies a bearer token per request.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// BearerTransport wraps http.RoundTripper to attach a fresh bearer token to
// every outgoing request.
type BearerTransport struct {
	Source    TokenSource
	Transport http.RoundTripper
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Source.GetValidToken(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)

	return t.base().RoundTrip(req)
}

func (t *BearerTransport) base() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

// NewBearerTransport creates a bearer transport over http.DefaultTransport.
func NewBearerTransport(source TokenSource) *BearerTransport {
	return &BearerTransport{
		Source:    source,
		Transport: http.DefaultTransport,
	}
}
