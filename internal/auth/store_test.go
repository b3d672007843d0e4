package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestMemoryStoreRefreshRotatesPair(t *testing.T) {
	var seen string
	store := NewMemoryStore(func(ctx context.Context, refreshToken string) (string, string, error) {
		seen = refreshToken
		return "access-2", "refresh-2", nil
	})
	store.Set("access-1", "refresh-1")

	got, err := store.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got != "access-2" {
		t.Errorf("expected access-2, got %s", got)
	}
	if seen != "refresh-1" {
		t.Errorf("expected refresh-1 to be exchanged, got %s", seen)
	}

	current, _ := store.AccessToken(context.Background())
	if current != "access-2" {
		t.Errorf("expected stored access-2, got %s", current)
	}
}

func TestMemoryStoreKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	calls := 0
	store := NewMemoryStore(func(ctx context.Context, refreshToken string) (string, string, error) {
		calls++
		if refreshToken != "refresh-1" {
			return "", "", fmt.Errorf("unexpected refresh token %s", refreshToken)
		}
		return fmt.Sprintf("access-%d", calls+1), "", nil
	})
	store.Set("access-1", "refresh-1")

	for i := 0; i < 2; i++ {
		if _, err := store.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}
}

func TestMemoryStoreWithoutRefreshToken(t *testing.T) {
	store := NewMemoryStore(func(ctx context.Context, refreshToken string) (string, string, error) {
		return "x", "y", nil
	})
	store.Set("access-1", "")

	if _, err := store.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore(nil)
	store.Set("a", "r")
	store.Clear()

	token, err := store.AccessToken(context.Background())
	if err != nil || token != "" {
		t.Errorf("expected empty token after clear, got %q, %v", token, err)
	}
}

func TestOAuth2StoreRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("expected refresh-1, got %q", r.Form.Get("refresh_token"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-2","refresh_token":"refresh-2","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	cfg := &oauth2.Config{
		ClientID: "notify",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	store := NewOAuth2Store(cfg, &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"})

	got, err := store.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got != "access-2" {
		t.Errorf("expected access-2, got %s", got)
	}

	current, _ := store.AccessToken(context.Background())
	if current != "access-2" {
		t.Errorf("expected stored access-2, got %s", current)
	}
}

type staticSource string

func (s staticSource) GetValidToken(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

func TestBearerTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("expected bearer header, got %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewBearerTransport(staticSource("abc"))}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	client = &http.Client{Transport: NewBearerTransport(staticSource(""))}
	if _, err := client.Get(srv.URL); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken through transport, got %v", err)
	}
}

// trackingBody records whether it was closed.
type trackingBody struct {
	strings.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestBearerTransportClosesBodyOnTokenError(t *testing.T) {
	body := &trackingBody{Reader: *strings.NewReader(`{"read":true}`)}
	req, err := http.NewRequest(http.MethodPost, "http://127.0.0.1:1/api/notifications", body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	_, err = NewBearerTransport(staticSource("")).RoundTrip(req)
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if !body.closed {
		t.Error("request body must be closed when no token is available")
	}
}
