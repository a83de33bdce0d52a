package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pinboard/widget/anchor"
)

func TestHeadersSentOnEveryRequest(t *testing.T) {
	var gotApp, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotApp = r.Header.Get(AppIDHeader)
		gotUser = r.Header.Get(UserIDHeader)
		json.NewEncoder(w).Encode(map[string]any{"nodes": []any{}, "error": nil})
	}))
	defer srv.Close()

	c := New(srv.URL, "app-1", "42")
	if _, err := c.ListPins(context.Background(), ListOptions{}); err != nil {
		t.Fatal(err)
	}
	if gotApp != "app-1" || gotUser != "42" {
		t.Fatalf("expected auth headers, got app=%q user=%q", gotApp, gotUser)
	}
}

func TestListPinsQueryAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("path") != "/pricing" || q.Get("mine") != "1" || q.Get("q") != "header logo" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("X-Total-Count", "1")
		json.NewEncoder(w).Encode(map[string]any{
			"nodes": []map[string]any{{
				"id":    12,
				"path":  "main > p",
				"w":     1280,
				"normX": 0.5,
				"user":  map[string]any{"id": 3, "name": "ada"},
				"comment": map[string]any{
					"id": 30, "text": "off center",
					"createdAt": "2026-08-01T10:00:00Z", "updatedAt": "2026-08-01T10:00:00Z",
				},
				"totalReplies": 2,
				"completedAt":  nil,
			}},
			"error": nil,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "app", "1")
	pins, err := c.ListPins(context.Background(), ListOptions{Path: "/pricing", Mine: true, Query: "header logo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 {
		t.Fatalf("expected 1 pin, got %d", len(pins))
	}
	p := pins[0]
	if p.ID != 12 || p.Path != "main > p" || p.W != 1280 || p.TotalReplies != 2 {
		t.Fatalf("bad decode: %+v", p)
	}
	if p.CompletedAt != nil {
		t.Fatal("completedAt should decode as nil")
	}
	if p.Comment == nil || p.Comment.Text != "off center" {
		t.Fatalf("bad root comment: %+v", p.Comment)
	}
}

func TestCreatePinMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		for field, want := range map[string]string{
			"pagePath": "/docs",
			"path":     "main > section.cards > div.card > p",
			"w":        "1280",
			"normX":    "0.5",
			"text":     "first!",
		} {
			if got := r.FormValue(field); got != want {
				t.Errorf("field %s = %q, want %q", field, got, want)
			}
		}
		files := r.MultipartForm.File["attachments[0]"]
		if len(files) != 1 || files[0].Filename != "shot.png" {
			t.Errorf("expected attachments[0] shot.png, got %+v", files)
		}
		json.NewEncoder(w).Encode(map[string]any{"pin": map[string]any{"id": 77}, "error": nil})
	}))
	defer srv.Close()

	c := New(srv.URL, "app", "1")
	id, err := c.CreatePin(context.Background(), "/docs",
		anchor.Anchor{Path: "main > section.cards > div.card > p", W: 1280, NormX: 0.5, NormY: 0.25},
		"first!",
		[]Upload{{Name: "shot.png", ContentType: "image/png", Reader: strings.NewReader("png-bytes")}})
	if err != nil {
		t.Fatal(err)
	}
	if id != 77 {
		t.Fatalf("expected pin id 77, got %d", id)
	}
}

func TestCompletePinBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		json.NewEncoder(w).Encode(map[string]any{"error": nil})
	}))
	defer srv.Close()

	c := New(srv.URL, "app", "1")
	if err := c.CompletePin(context.Background(), 5, true); err != nil {
		t.Fatal(err)
	}
	if err := c.CompletePin(context.Background(), 5, false); err != nil {
		t.Fatal(err)
	}
	if len(bodies) != 2 || bodies[0] != "1" || bodies[1] != "0" {
		t.Fatalf("expected bodies 1 then 0, got %v", bodies)
	}
}

func TestFieldErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"comment": nil,
			"error":   map[string]string{"text": "REQUIRED"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "app", "1")
	_, err := c.CreateComment(context.Background(), 9, "", nil)
	fields, ok := err.(FieldErrors)
	if !ok {
		t.Fatalf("expected FieldErrors, got %T: %v", err, err)
	}
	if fields["text"] != "REQUIRED" {
		t.Fatalf("unexpected field errors %v", fields)
	}
}

func TestFlatCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"user":  nil,
			"error": map[string]string{"code": "MISSING_APP_ID"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "1")
	_, err := c.UpsertUser(context.Background(), "u-1", "Ada")
	var code *CodeError
	if !errorsAs(err, &code) || code.Code != "MISSING_APP_ID" {
		t.Fatalf("expected MISSING_APP_ID, got %v", err)
	}
}

func TestUpsertUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "host-7" || body["name"] != "Ada" {
			t.Errorf("unexpected body %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": 42}, "error": nil})
	}))
	defer srv.Close()

	c := New(srv.URL, "app", "")
	id, err := c.UpsertUser(context.Background(), "host-7", "Ada")
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Fatalf("expected user id 42, got %d", id)
	}
}

func errorsAs(err error, target **CodeError) bool {
	if err == nil {
		return false
	}
	c, ok := err.(*CodeError)
	if ok {
		*target = c
	}
	return ok
}
