package trello

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	logx "editrelay/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Key: "k", Token: "t", BaseURL: srv.URL}, logx.Nop())
}

func TestCreateCard(t *testing.T) {
	var gotPath string
	var gotParams url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotParams = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc123","name":"Ep 12","idList":"L1"}`))
	})

	card, err := c.CreateCard(context.Background(), "L1", "Ep 12", "desc here")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if card.ID != "abc123" {
		t.Fatalf("card id = %q", card.ID)
	}
	if gotPath != "/cards" {
		t.Fatalf("path = %q", gotPath)
	}
	for k, want := range map[string]string{
		"key": "k", "token": "t", "idList": "L1", "name": "Ep 12", "desc": "desc here",
	} {
		if gotParams.Get(k) != want {
			t.Fatalf("param %s = %q, want %q", k, gotParams.Get(k), want)
		}
	}
}

func TestListAttachments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/abc/attachments" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"url":"https://x/1","name":"one"},{"url":"https://x/2","name":"two"}]`))
	})

	atts, err := c.ListAttachments(context.Background(), "abc")
	if err != nil {
		t.Fatalf("list attachments: %v", err)
	}
	if len(atts) != 2 || atts[0].URL != "https://x/1" || atts[1].URL != "https://x/2" {
		t.Fatalf("unexpected attachments: %+v", atts)
	}
}

func TestMoveCard(t *testing.T) {
	var gotMethod, gotList string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotList = r.URL.Query().Get("idList")
		w.WriteHeader(http.StatusOK)
	})

	if err := c.MoveCard(context.Background(), "abc", "L4"); err != nil {
		t.Fatalf("move card: %v", err)
	}
	if gotMethod != http.MethodPut || gotList != "L4" {
		t.Fatalf("method=%s idList=%s", gotMethod, gotList)
	}
}

func TestNonSuccessYieldsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	})

	_, err := c.CreateCard(context.Background(), "L1", "x", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Body != "invalid token" {
		t.Fatalf("unexpected error contents: %+v", apiErr)
	}
}
