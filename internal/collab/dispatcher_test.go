package collab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antoniostano/piiguard/internal/reliability"
)

func TestHTTPDispatcherPostsEnvelopeAndReturnsBody(t *testing.T) {
	var got envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"breached":false,"sources":[]}`))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, 0)
	out, err := d.Dispatch(context.Background(), ActionCheckBreach, json.RawMessage(`{"email":"a@b.co"}`))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if string(out) != `{"breached":false,"sources":[]}` {
		t.Fatalf("body = %s, want collaborator reply untouched", out)
	}
	if got.Action != ActionCheckBreach {
		t.Fatalf("action = %q, want %q", got.Action, ActionCheckBreach)
	}
	if string(got.Payload) != `{"email":"a@b.co"}` {
		t.Fatalf("payload = %s", got.Payload)
	}
}

func TestHTTPDispatcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPDispatcher(srv.URL, 0).Dispatch(context.Background(), ActionGetAllowlist, nil)
	var se *reliability.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadGateway || se.Body != "nope" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestUnknownActionRejectedBeforeSending(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	_, err := NewHTTPDispatcher(srv.URL, 0).Dispatch(context.Background(), Action("format-disk"), nil)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
	if called {
		t.Fatalf("collaborator was called for an unknown action")
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"check-breach", "allowlist", "remove-url", "get-allowlist", "get-temp-allowlist", "proceed", "proceed-temp", "remove-temp-url"} {
		a, err := ParseAction(s)
		if err != nil || string(a) != s {
			t.Fatalf("ParseAction(%q) = %q, %v", s, a, err)
		}
	}
	if _, err := ParseAction("drop-table"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("ParseAction(drop-table) err = %v, want ErrUnknownAction", err)
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Dispatch(context.Background(), ActionProceed, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
