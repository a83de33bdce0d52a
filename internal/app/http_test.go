package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pinboard/internal/blob"
	"pinboard/internal/config"
	"pinboard/internal/search"
	"pinboard/internal/store"
)

type fakeStore struct {
	upsertUserFn    func(context.Context, string, string, string) (store.User, error)
	getUserFn       func(context.Context, int64, string) (store.User, error)
	listPinsFn      func(context.Context, store.PinFilter) ([]store.Pin, error)
	getPinFn        func(context.Context, int64, string) (store.Pin, error)
	createPinFn     func(context.Context, store.Pin, string) (store.Pin, store.Comment, error)
	rootCommentsFn  func(context.Context, []int64) (map[int64]store.Comment, error)
	completePinFn   func(context.Context, int64, string, int64, bool) (bool, error)
	deletePinFn     func(context.Context, int64, string, int64) (bool, error)
	listCommentsFn  func(context.Context, int64, string) ([]store.Comment, error)
	createCommentFn func(context.Context, store.Comment) (store.Comment, error)
	getCommentFn    func(context.Context, int64, string) (store.Comment, error)
	updateCommentFn func(context.Context, int64, int64, string) (bool, error)
	deleteCommentFn func(context.Context, int64, int64) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) UpsertUser(ctx context.Context, externalID, appID, name string) (store.User, error) {
	if f.upsertUserFn != nil {
		return f.upsertUserFn(ctx, externalID, appID, name)
	}
	return store.User{ID: 1, ExternalID: externalID, AppID: appID, Name: name}, nil
}
func (f *fakeStore) GetUser(ctx context.Context, id int64, appID string) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, id, appID)
	}
	return store.User{ID: id, AppID: appID, Name: "Ada"}, nil
}
func (f *fakeStore) ListPins(ctx context.Context, filter store.PinFilter) ([]store.Pin, error) {
	if f.listPinsFn != nil {
		return f.listPinsFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) GetPin(ctx context.Context, id int64, appID string) (store.Pin, error) {
	if f.getPinFn != nil {
		return f.getPinFn(ctx, id, appID)
	}
	return store.Pin{ID: id, AppID: appID, PagePath: "/docs"}, nil
}
func (f *fakeStore) CreatePin(ctx context.Context, pin store.Pin, rootText string) (store.Pin, store.Comment, error) {
	if f.createPinFn != nil {
		return f.createPinFn(ctx, pin, rootText)
	}
	pin.ID = 5
	return pin, store.Comment{ID: 30, PinID: 5, UserID: pin.UserID, Text: rootText}, nil
}
func (f *fakeStore) RootComments(ctx context.Context, pinIDs []int64) (map[int64]store.Comment, error) {
	if f.rootCommentsFn != nil {
		return f.rootCommentsFn(ctx, pinIDs)
	}
	return map[int64]store.Comment{}, nil
}
func (f *fakeStore) CompletePin(ctx context.Context, id int64, appID string, userID int64, done bool) (bool, error) {
	if f.completePinFn != nil {
		return f.completePinFn(ctx, id, appID, userID, done)
	}
	return true, nil
}
func (f *fakeStore) DeletePin(ctx context.Context, id int64, appID string, userID int64) (bool, error) {
	if f.deletePinFn != nil {
		return f.deletePinFn(ctx, id, appID, userID)
	}
	return true, nil
}
func (f *fakeStore) ListComments(ctx context.Context, pinID int64, appID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, pinID, appID)
	}
	return nil, nil
}
func (f *fakeStore) CreateComment(ctx context.Context, comment store.Comment) (store.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, comment)
	}
	comment.ID = 31
	return comment, nil
}
func (f *fakeStore) GetComment(ctx context.Context, id int64, appID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id, appID)
	}
	return store.Comment{ID: id, PinID: 5, UserID: 42}, nil
}
func (f *fakeStore) UpdateComment(ctx context.Context, id, userID int64, text string) (bool, error) {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, id, userID, text)
	}
	return true, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, id, userID int64) (bool, error) {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id, userID)
	}
	return true, nil
}
func (f *fakeStore) CreateAttachment(ctx context.Context, att store.Attachment) (store.Attachment, error) {
	att.ID = 7
	return att, nil
}
func (f *fakeStore) ListAttachments(context.Context, []int64) ([]store.Attachment, error) {
	return nil, nil
}
func (f *fakeStore) AttachmentKeysForPin(context.Context, int64) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) AttachmentKeysForComment(context.Context, int64) ([]string, error) {
	return nil, nil
}

type fakeBlob struct {
	removed [][]string
}

func (f *fakeBlob) Store(_ context.Context, fh *multipart.FileHeader) (string, blob.Data, error) {
	return "key-" + fh.Filename, blob.Data{Type: fh.Header.Get("Content-Type")}, nil
}
func (f *fakeBlob) URL(key string) string { return "https://cdn.test/" + key }
func (f *fakeBlob) Remove(_ context.Context, keys []string) {
	f.removed = append(f.removed, keys)
}

type fakeSearch struct {
	searchFn func(context.Context, search.Query) ([]int64, error)
	indexed  []search.Record
	deleted  []int64
}

func (f *fakeSearch) SearchPins(ctx context.Context, q search.Query) ([]int64, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return nil, nil
}
func (f *fakeSearch) IndexPin(record search.Record) { f.indexed = append(f.indexed, record) }
func (f *fakeSearch) DeletePin(id int64)            { f.deleted = append(f.deleted, id) }

func newTestServer(t *testing.T, st Store) (*httptest.Server, *fakeBlob, *fakeSearch) {
	t.Helper()
	bl := &fakeBlob{}
	se := &fakeSearch{}
	svc := New(st, bl, se, nil, config.DefaultOverlay())
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(srv.Close)
	return srv, bl, se
}

func doRequest(t *testing.T, method, url string, headers map[string]string, body *bytes.Buffer) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Buffer
	if body == nil {
		reader = &bytes.Buffer{}
	} else {
		reader = body
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, envelope
}

func authHeaders() map[string]string {
	return map[string]string{
		HeaderAppID:    "app-1",
		HeaderUserID:   "42",
		"Content-Type": "application/json",
	}
}

func TestMissingAppID(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStore{})

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/v1/pins", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(envelope["error"]), "MISSING_APP_ID") {
		t.Fatalf("expected MISSING_APP_ID, got %s", envelope["error"])
	}
}

func TestMissingUserID(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStore{})

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/v1/pins",
		map[string]string{HeaderAppID: "app-1"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(envelope["error"]), "MISSING_USER_ID") {
		t.Fatalf("expected MISSING_USER_ID, got %s", envelope["error"])
	}
}

func TestUpsertUserRequiresOnlyAppID(t *testing.T) {
	st := &fakeStore{
		upsertUserFn: func(_ context.Context, externalID, appID, name string) (store.User, error) {
			if externalID != "host-7" || appID != "app-1" || name != "Ada" {
				t.Errorf("unexpected upsert args %q %q %q", externalID, appID, name)
			}
			return store.User{ID: 42, Name: name}, nil
		},
	}
	srv, _, _ := newTestServer(t, st)

	body := bytes.NewBufferString(`{"id":"host-7","name":"Ada"}`)
	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/v1/users",
		map[string]string{HeaderAppID: "app-1", "Content-Type": "application/json"}, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var user UserView
	if err := json.Unmarshal(envelope["user"], &user); err != nil {
		t.Fatal(err)
	}
	if user.ID != 42 {
		t.Fatalf("expected user id 42, got %+v", user)
	}
	if string(envelope["error"]) != "null" {
		t.Fatalf("expected null error, got %s", envelope["error"])
	}
}

func TestUpsertUserValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStore{})

	body := bytes.NewBufferString(`{"id":"  ","name":""}`)
	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/v1/users",
		map[string]string{HeaderAppID: "app-1", "Content-Type": "application/json"}, body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var fields map[string]string
	if err := json.Unmarshal(envelope["error"], &fields); err != nil {
		t.Fatal(err)
	}
	if fields["id"] != "REQUIRED" || fields["name"] != "REQUIRED" {
		t.Fatalf("expected REQUIRED codes, got %v", fields)
	}
}

func TestListPins(t *testing.T) {
	now := time.Now()
	st := &fakeStore{
		listPinsFn: func(_ context.Context, filter store.PinFilter) ([]store.Pin, error) {
			if filter.AppID != "app-1" || filter.PagePath != "/docs" || filter.UserID != 42 {
				t.Errorf("unexpected filter %+v", filter)
			}
			return []store.Pin{{
				ID: 5, AppID: "app-1", UserID: 42, PagePath: "/docs",
				Path: "main > p", W: 1280, UserName: "Ada", TotalReplies: 2,
				CreatedAt: now, UpdatedAt: now,
			}}, nil
		},
		rootCommentsFn: func(_ context.Context, pinIDs []int64) (map[int64]store.Comment, error) {
			return map[int64]store.Comment{
				5: {ID: 30, PinID: 5, UserID: 42, Text: "note", UserName: "Ada", CreatedAt: now, UpdatedAt: now},
			}, nil
		},
	}
	srv, _, _ := newTestServer(t, st)

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/v1/pins?path=/docs&mine=1", authHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Total-Count"); got != "1" {
		t.Fatalf("expected X-Total-Count 1, got %q", got)
	}

	var pins []PinView
	if err := json.Unmarshal(envelope["nodes"], &pins); err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 || pins[0].ID != 5 || pins[0].TotalReplies != 2 {
		t.Fatalf("unexpected pins %+v", pins)
	}
	if pins[0].Comment == nil || pins[0].Comment.Text != "note" {
		t.Fatalf("expected embedded root comment, got %+v", pins[0].Comment)
	}
}

func TestListPinsWithQueryUsesSearch(t *testing.T) {
	st := &fakeStore{
		listPinsFn: func(_ context.Context, filter store.PinFilter) ([]store.Pin, error) {
			if len(filter.IDs) != 1 || filter.IDs[0] != 9 {
				t.Errorf("expected filter restricted to search hits, got %+v", filter)
			}
			return nil, nil
		},
	}
	srv, _, se := newTestServer(t, st)
	se.searchFn = func(_ context.Context, q search.Query) ([]int64, error) {
		if q.Text != "logo" || q.AppID != "app-1" {
			t.Errorf("unexpected search query %+v", q)
		}
		return []int64{9}, nil
	}

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/pins?path=/docs&q=logo", authHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func multipartPin(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestCreatePin(t *testing.T) {
	srv, _, se := newTestServer(t, &fakeStore{})

	body, contentType := multipartPin(t, map[string]string{
		"pagePath": "/docs", "path": "main > p",
		"w": "1280", "normX": "0.5", "normY": "0.25", "relX": "0.5", "relY": "0.5",
		"text": "first!",
	})
	headers := authHeaders()
	headers["Content-Type"] = contentType

	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/v1/pins", headers, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, envelope["error"])
	}

	var pin PinView
	if err := json.Unmarshal(envelope["pin"], &pin); err != nil {
		t.Fatal(err)
	}
	if pin.ID != 5 || pin.W != 1280 || pin.Comment == nil || pin.Comment.Text != "first!" {
		t.Fatalf("unexpected pin %+v", pin)
	}
	if len(se.indexed) != 1 || se.indexed[0].Text != "first!" {
		t.Fatalf("expected the root comment to be indexed, got %+v", se.indexed)
	}
}

func TestCreatePinValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStore{})

	body, contentType := multipartPin(t, map[string]string{"path": "main > p", "w": "1280"})
	headers := authHeaders()
	headers["Content-Type"] = contentType

	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/v1/pins", headers, body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var fields map[string]string
	if err := json.Unmarshal(envelope["error"], &fields); err != nil {
		t.Fatal(err)
	}
	if fields["text"] != "REQUIRED" || fields["pagePath"] != "REQUIRED" {
		t.Fatalf("expected REQUIRED for text and pagePath, got %v", fields)
	}
}

func TestCompletePinBody(t *testing.T) {
	var gotDone []bool
	st := &fakeStore{
		completePinFn: func(_ context.Context, id int64, _ string, _ int64, done bool) (bool, error) {
			gotDone = append(gotDone, done)
			return true, nil
		},
	}
	srv, _, _ := newTestServer(t, st)

	// Only a literal "1" completes; anything else uncompletes.
	for _, payload := range []string{"1", "0", "yes"} {
		body := bytes.NewBufferString(payload)
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/v1/pins/5/complete", authHeaders(), body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %q, got %d", payload, resp.StatusCode)
		}
	}
	if len(gotDone) != 3 || !gotDone[0] || gotDone[1] || gotDone[2] {
		t.Fatalf("expected done=[true false false], got %v", gotDone)
	}
}

func TestDeletePinNotAuthorSilentNoOp(t *testing.T) {
	st := &fakeStore{
		deletePinFn: func(context.Context, int64, string, int64) (bool, error) {
			return false, nil
		},
	}
	srv, bl, se := newTestServer(t, st)

	resp, envelope := doRequest(t, http.MethodDelete, srv.URL+"/v1/pins/5", authHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("a non-author delete must report success, got %d", resp.StatusCode)
	}
	if string(envelope["error"]) != "null" {
		t.Fatalf("expected null error, got %s", envelope["error"])
	}
	if len(bl.removed) != 0 || len(se.deleted) != 0 {
		t.Fatalf("zero rows affected must mean zero side effects, got blobs=%v search=%v", bl.removed, se.deleted)
	}
}

func TestUpdateCommentNotAuthorSilentNoOp(t *testing.T) {
	st := &fakeStore{
		updateCommentFn: func(context.Context, int64, int64, string) (bool, error) {
			return false, nil
		},
	}
	srv, _, se := newTestServer(t, st)

	body := bytes.NewBufferString(`{"text":"rewritten"}`)
	resp, envelope := doRequest(t, http.MethodPatch, srv.URL+"/v1/comments/30", authHeaders(), body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("a non-author update must report success, got %d", resp.StatusCode)
	}
	if string(envelope["error"]) != "null" {
		t.Fatalf("expected null error, got %s", envelope["error"])
	}
	if len(se.indexed) != 0 {
		t.Fatalf("an update that changed nothing must not reindex, got %+v", se.indexed)
	}
}

func TestDeletePinCleansUp(t *testing.T) {
	srv, bl, se := newTestServer(t, &fakeStore{})

	resp, _ := doRequest(t, http.MethodDelete, srv.URL+"/v1/pins/5", authHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(se.deleted) != 1 || se.deleted[0] != 5 {
		t.Fatalf("expected the pin removed from search, got %v", se.deleted)
	}
	if len(bl.removed) != 1 {
		t.Fatalf("expected one blob removal batch, got %v", bl.removed)
	}
}

func TestDeleteRootCommentNoOp(t *testing.T) {
	st := &fakeStore{
		deleteCommentFn: func(context.Context, int64, int64) (bool, error) {
			// The store refuses to delete a pin's first comment.
			return false, nil
		},
	}
	srv, bl, _ := newTestServer(t, st)

	resp, _ := doRequest(t, http.MethodDelete, srv.URL+"/v1/comments/30", authHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("a refused delete still reports success, got %d", resp.StatusCode)
	}
	if len(bl.removed) != 0 {
		t.Fatalf("the root comment's attachments must survive, got %v", bl.removed)
	}
}

func TestNotFoundRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStore{})

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/widgets", authHeaders(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestConfigEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStore{})

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/v1/config",
		map[string]string{HeaderAppID: "app-1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var overlay config.Overlay
	if err := json.Unmarshal(envelope["config"], &overlay); err != nil {
		t.Fatal(err)
	}
	if overlay.Attachments.MaxCount != 3 {
		t.Fatalf("unexpected overlay %+v", overlay)
	}
}

func TestServerErrorShape(t *testing.T) {
	st := &fakeStore{
		listPinsFn: func(context.Context, store.PinFilter) ([]store.Pin, error) {
			return nil, sql.ErrConnDone
		},
	}
	srv, _, _ := newTestServer(t, st)

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/v1/pins", authHeaders(), nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(envelope["error"]), "SERVER_ERROR") {
		t.Fatalf("expected SERVER_ERROR, got %s", envelope["error"])
	}
}
