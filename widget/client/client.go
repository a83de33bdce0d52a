// Package client is the HTTP SDK the widget uses to talk to the pinboard
// API. It mirrors the wire contract exactly and performs no retries: a
// failed submission surfaces as an error and the caller's draft stays
// intact.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pinboard/widget/anchor"
)

// AppIDHeader and UserIDHeader authenticate every request. Requests missing
// either are rejected before reaching business logic.
const (
	AppIDHeader  = "Pinboard-App-ID"
	UserIDHeader = "Pinboard-User-ID"
)

// User is a pin or comment author.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Attachment is an uploaded image owned by exactly one comment.
type Attachment struct {
	ID   int    `json:"id"`
	URL  string `json:"url"`
	Data struct {
		Type string `json:"type"`
		Hash string `json:"hash,omitempty"`
	} `json:"data"`
}

// Comment is a rich-text body the widget stores and renders but never
// interprets.
type Comment struct {
	ID          int          `json:"id"`
	User        *User        `json:"user,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Pin is a persisted annotation: an anchor plus its root comment.
type Pin struct {
	anchor.Anchor
	ID           int        `json:"id"`
	User         *User      `json:"user"`
	Comment      *Comment   `json:"comment"`
	TotalReplies int        `json:"totalReplies"`
	CompletedAt  *time.Time `json:"completedAt"`
}

// Upload is an attachment to submit with a pin or comment.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// CodeError is a flat error code from the API, e.g. MISSING_APP_ID.
type CodeError struct {
	Code string `json:"code"`
}

func (e *CodeError) Error() string { return e.Code }

// FieldErrors maps request fields to validation codes (REQUIRED, INVALID,
// TOO_BIG, ...).
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	parts := make([]string, 0, len(e))
	for field, code := range e {
		parts = append(parts, field+": "+code)
	}
	return strings.Join(parts, ", ")
}

// Client talks to one pinboard API on behalf of one app/user pair.
type Client struct {
	baseURL string
	appID   string
	userID  string
	hc      *http.Client
}

func New(baseURL, appID, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		appID:   appID,
		userID:  userID,
		hc:      &http.Client{Timeout: 15 * time.Second},
	}
}

// SetUserID switches the acting user, e.g. after the upsert handshake.
func (c *Client) SetUserID(id int) {
	c.userID = strconv.Itoa(id)
}

// UpsertUser registers the embedding host's user and returns the internal
// id. Upsert is keyed by (externalID, appID) server-side.
func (c *Client) UpsertUser(ctx context.Context, externalID, name string) (int, error) {
	body, _ := json.Marshal(map[string]string{"id": externalID, "name": name})

	var result struct {
		User *struct {
			ID int `json:"id"`
		} `json:"user"`
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/users", bytes.NewReader(body), "application/json", &result); err != nil {
		return 0, err
	}
	if err := decodeError(result.Error); err != nil {
		return 0, err
	}
	if result.User == nil {
		return 0, fmt.Errorf("client: empty user in response")
	}
	return result.User.ID, nil
}

// ListOptions filters the pin listing.
type ListOptions struct {
	// Path is the page pathname pins were captured on.
	Path string
	// Mine restricts the listing to the acting user's pins.
	Mine bool
	// Query is a free-text search over root comments.
	Query string
}

// ListPins fetches the pin collection for a page.
func (c *Client) ListPins(ctx context.Context, opts ListOptions) ([]Pin, error) {
	q := url.Values{}
	if opts.Path != "" {
		q.Set("path", opts.Path)
	}
	if opts.Mine {
		q.Set("mine", "1")
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}

	endpoint := "/v1/pins"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var result struct {
		Nodes []Pin           `json:"nodes"`
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, "", &result); err != nil {
		return nil, err
	}
	if err := decodeError(result.Error); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// CreatePin submits a draft: the anchor, the root comment text, and any
// attachments, as one multipart request.
func (c *Client) CreatePin(ctx context.Context, pagePath string, a anchor.Anchor, text string, attachments []Upload) (int, error) {
	body, contentType, err := multipartBody(map[string]string{
		"pagePath": pagePath,
		"path":     a.Path,
		"w":        formatFloat(a.W),
		"normX":    formatFloat(a.NormX),
		"normY":    formatFloat(a.NormY),
		"relX":     formatFloat(a.RelX),
		"relY":     formatFloat(a.RelY),
		"text":     text,
	}, attachments)
	if err != nil {
		return 0, err
	}

	var result struct {
		Pin *struct {
			ID int `json:"id"`
		} `json:"pin"`
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pins", body, contentType, &result); err != nil {
		return 0, err
	}
	if err := decodeError(result.Error); err != nil {
		return 0, err
	}
	if result.Pin == nil {
		return 0, fmt.Errorf("client: empty pin in response")
	}
	return result.Pin.ID, nil
}

// CompletePin toggles completion. Idempotent at the state level server-side.
func (c *Client) CompletePin(ctx context.Context, id int, done bool) error {
	payload := "0"
	if done {
		payload = "1"
	}
	var result struct {
		Error json.RawMessage `json:"error"`
	}
	endpoint := fmt.Sprintf("/v1/pins/%d/complete", id)
	if err := c.do(ctx, http.MethodPost, endpoint, strings.NewReader(payload), "text/plain", &result); err != nil {
		return err
	}
	return decodeError(result.Error)
}

// DeletePin removes a pin and everything under it. Author-only; the server
// silently no-ops for anyone else.
func (c *Client) DeletePin(ctx context.Context, id int) error {
	var result struct {
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/pins/%d", id), nil, "", &result); err != nil {
		return err
	}
	return decodeError(result.Error)
}

// ListComments fetches a pin's replies. The root comment is excluded; it
// travels embedded in the pin itself.
func (c *Client) ListComments(ctx context.Context, pinID int) ([]Comment, error) {
	var result struct {
		Nodes []Comment       `json:"nodes"`
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/pins/%d/comments", pinID), nil, "", &result); err != nil {
		return nil, err
	}
	if err := decodeError(result.Error); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// CreateComment adds a reply to a pin.
func (c *Client) CreateComment(ctx context.Context, pinID int, text string, attachments []Upload) (int, error) {
	body, contentType, err := multipartBody(map[string]string{"text": text}, attachments)
	if err != nil {
		return 0, err
	}

	var result struct {
		Comment *struct {
			ID int `json:"id"`
		} `json:"comment"`
		Error json.RawMessage `json:"error"`
	}
	endpoint := fmt.Sprintf("/v1/pins/%d/comments", pinID)
	if err := c.do(ctx, http.MethodPost, endpoint, body, contentType, &result); err != nil {
		return 0, err
	}
	if err := decodeError(result.Error); err != nil {
		return 0, err
	}
	if result.Comment == nil {
		return 0, fmt.Errorf("client: empty comment in response")
	}
	return result.Comment.ID, nil
}

// UpdateComment rewrites a comment's body. Author-scoped server-side.
func (c *Client) UpdateComment(ctx context.Context, id int, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	var result struct {
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/comments/%d", id), bytes.NewReader(body), "application/json", &result); err != nil {
		return err
	}
	return decodeError(result.Error)
}

// DeleteComment removes a reply and its attachments. Author-scoped.
func (c *Client) DeleteComment(ctx context.Context, id int) error {
	var result struct {
		Error json.RawMessage `json:"error"`
	}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/comments/%d", id), nil, "", &result); err != nil {
		return err
	}
	return decodeError(result.Error)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set(AppIDHeader, c.appID)
	req.Header.Set(UserIDHeader, c.userID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

// decodeError interprets the response envelope's error member: null means
// success, {"code": ...} is a flat code, anything else is a per-field map.
func decodeError(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var flat CodeError
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Code != "" {
		return &flat
	}

	var fields FieldErrors
	if err := json.Unmarshal(raw, &fields); err == nil && len(fields) > 0 {
		return fields
	}
	return fmt.Errorf("client: request failed: %s", raw)
}

func multipartBody(fields map[string]string, attachments []Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("client: write field %s: %w", name, err)
		}
	}

	for i, att := range attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments[%d]"; filename=%q`, i, att.Name))
		header.Set("Content-Type", att.ContentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("client: attachment %s: %w", att.Name, err)
		}
		if _, err := io.Copy(part, att.Reader); err != nil {
			return nil, "", fmt.Errorf("client: attachment %s: %w", att.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
