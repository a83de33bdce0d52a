package app

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"pinboard/internal/blob"
	"pinboard/internal/config"
	"pinboard/internal/search"
	"pinboard/internal/store"
)

// Store is the persistence surface the service needs. *store.PostgresStore
// satisfies it; tests substitute a fake.
type Store interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, externalID, appID, name string) (store.User, error)
	GetUser(ctx context.Context, id int64, appID string) (store.User, error)
	ListPins(ctx context.Context, filter store.PinFilter) ([]store.Pin, error)
	GetPin(ctx context.Context, id int64, appID string) (store.Pin, error)
	CreatePin(ctx context.Context, pin store.Pin, rootText string) (store.Pin, store.Comment, error)
	RootComments(ctx context.Context, pinIDs []int64) (map[int64]store.Comment, error)
	CompletePin(ctx context.Context, id int64, appID string, userID int64, done bool) (bool, error)
	DeletePin(ctx context.Context, id int64, appID string, userID int64) (bool, error)
	ListComments(ctx context.Context, pinID int64, appID string) ([]store.Comment, error)
	CreateComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, id int64, appID string) (store.Comment, error)
	UpdateComment(ctx context.Context, id, userID int64, text string) (bool, error)
	DeleteComment(ctx context.Context, id, userID int64) (bool, error)
	CreateAttachment(ctx context.Context, att store.Attachment) (store.Attachment, error)
	ListAttachments(ctx context.Context, commentIDs []int64) ([]store.Attachment, error)
	AttachmentKeysForPin(ctx context.Context, pinID int64) ([]string, error)
	AttachmentKeysForComment(ctx context.Context, commentID int64) ([]string, error)
}

// Blob stores attachment objects.
type Blob interface {
	Store(ctx context.Context, fh *multipart.FileHeader) (string, blob.Data, error)
	URL(key string) string
	Remove(ctx context.Context, keys []string)
}

// Search resolves free-text queries to pin ids and keeps the index current.
type Search interface {
	SearchPins(ctx context.Context, q search.Query) ([]int64, error)
	IndexPin(record search.Record)
	DeletePin(id int64)
}

// Cache holds pin collection payloads per (app, page). Nil disables it.
type Cache interface {
	Get(ctx context.Context, appID, pagePath string, out any) bool
	Set(ctx context.Context, appID, pagePath string, value any)
	Invalidate(ctx context.Context, appID, pagePath string)
}

// Identity is the caller extracted from the auth headers.
type Identity struct {
	AppID  string
	UserID int64
}

type Service struct {
	store    Store
	blob     Blob
	search   Search
	cache    Cache
	overlay  config.Overlay
	validate *validator.Validate
}

func New(st Store, bl Blob, se Search, ca Cache, overlay config.Overlay) *Service {
	return &Service{
		store:    st,
		blob:     bl,
		search:   se,
		cache:    ca,
		overlay:  overlay,
		validate: newValidator(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Overlay() config.Overlay {
	return s.overlay
}

// View types, shaped exactly like the wire contract the widget consumes.

type UserView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type AttachmentView struct {
	ID   int64     `json:"id"`
	URL  string    `json:"url"`
	Data blob.Data `json:"data"`
}

type CommentView struct {
	ID          int64            `json:"id"`
	User        *UserView        `json:"user,omitempty"`
	Text        string           `json:"text"`
	Attachments []AttachmentView `json:"attachments"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type PinView struct {
	ID           int64        `json:"id"`
	PagePath     string       `json:"pagePath"`
	Path         string       `json:"path"`
	W            float64      `json:"w"`
	NormX        float64      `json:"normX"`
	NormY        float64      `json:"normY"`
	RelX         float64      `json:"relX"`
	RelY         float64      `json:"relY"`
	User         *UserView    `json:"user"`
	Comment      *CommentView `json:"comment"`
	TotalReplies int          `json:"totalReplies"`
	CompletedAt  *time.Time   `json:"completedAt"`
}

type UpsertUserInput struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// UpsertUser registers the host page's user and returns the internal id the
// widget authenticates with from then on.
func (s *Service) UpsertUser(ctx context.Context, appID string, in UpsertUserInput) (UserView, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if errs := s.fieldErrors(in); errs != nil {
		return UserView{}, errs
	}

	user, err := s.store.UpsertUser(ctx, in.ID, appID, in.Name)
	if err != nil {
		return UserView{}, err
	}
	return UserView{ID: user.ID, Name: user.Name}, nil
}

// ListPins returns a page's pin collection. Plain per-page listings are
// served from the cache when possible; "mine" and search listings always
// hit the database.
func (s *Service) ListPins(ctx context.Context, id Identity, pagePath string, mine bool, query string) ([]PinView, error) {
	cacheable := s.cache != nil && !mine && query == "" && pagePath != ""
	if cacheable {
		var cached []PinView
		if s.cache.Get(ctx, id.AppID, pagePath, &cached) {
			return cached, nil
		}
	}

	filter := store.PinFilter{AppID: id.AppID, PagePath: pagePath}
	if mine {
		filter.UserID = id.UserID
	}
	if query != "" {
		ids, err := s.search.SearchPins(ctx, search.Query{AppID: id.AppID, PagePath: pagePath, Text: query})
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []PinView{}, nil
		}
		filter.IDs = ids
	}

	pins, err := s.store.ListPins(ctx, filter)
	if err != nil {
		return nil, err
	}

	views, err := s.pinViews(ctx, pins)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.Set(ctx, id.AppID, pagePath, views)
	}
	return views, nil
}

// pinViews joins pins with their root comments and attachments.
func (s *Service) pinViews(ctx context.Context, pins []store.Pin) ([]PinView, error) {
	pinIDs := make([]int64, len(pins))
	for i, pin := range pins {
		pinIDs[i] = pin.ID
	}

	roots, err := s.store.RootComments(ctx, pinIDs)
	if err != nil {
		return nil, err
	}

	rootIDs := make([]int64, 0, len(roots))
	for _, root := range roots {
		rootIDs = append(rootIDs, root.ID)
	}
	attachments, err := s.attachmentViews(ctx, rootIDs)
	if err != nil {
		return nil, err
	}

	views := make([]PinView, 0, len(pins))
	for _, pin := range pins {
		view := PinView{
			ID:           pin.ID,
			PagePath:     pin.PagePath,
			Path:         pin.Path,
			W:            pin.W,
			NormX:        pin.NormX,
			NormY:        pin.NormY,
			RelX:         pin.RelX,
			RelY:         pin.RelY,
			User:         &UserView{ID: pin.UserID, Name: pin.UserName},
			TotalReplies: pin.TotalReplies,
			CompletedAt:  pin.CompletedAt,
		}
		if root, ok := roots[pin.ID]; ok {
			rootView := s.commentView(root, attachments[root.ID])
			view.Comment = &rootView
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) commentView(c store.Comment, attachments []AttachmentView) CommentView {
	view := CommentView{
		ID:          c.ID,
		Text:        c.Text,
		Attachments: attachments,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if view.Attachments == nil {
		view.Attachments = []AttachmentView{}
	}
	if c.UserName != "" || c.UserID != 0 {
		view.User = &UserView{ID: c.UserID, Name: c.UserName}
	}
	return view
}

func (s *Service) attachmentViews(ctx context.Context, commentIDs []int64) (map[int64][]AttachmentView, error) {
	records, err := s.store.ListAttachments(ctx, commentIDs)
	if err != nil {
		return nil, err
	}

	byComment := make(map[int64][]AttachmentView)
	for _, record := range records {
		var data blob.Data
		if err := json.Unmarshal(record.Data, &data); err != nil {
			log.Debug().Err(err).Int64("attachment", record.ID).Msg("app: bad attachment data")
		}
		byComment[record.CommentID] = append(byComment[record.CommentID], AttachmentView{
			ID:   record.ID,
			URL:  s.blob.URL(record.ObjectKey),
			Data: data,
		})
	}
	return byComment, nil
}

type CreatePinInput struct {
	PagePath string  `json:"pagePath" validate:"required"`
	Path     string  `json:"path"`
	W        float64 `json:"w" validate:"required,gt=0"`
	NormX    float64 `json:"normX"`
	NormY    float64 `json:"normY"`
	RelX     float64 `json:"relX"`
	RelY     float64 `json:"relY"`
	Text     string  `json:"text" validate:"required"`
	Files    []*multipart.FileHeader
}

// CreatePin persists a captured draft: the pin row, its root comment, and
// any attachments.
func (s *Service) CreatePin(ctx context.Context, id Identity, in CreatePinInput) (PinView, error) {
	in.PagePath = strings.TrimSpace(in.PagePath)
	in.Text = strings.TrimSpace(in.Text)
	if errs := s.fieldErrors(in); errs != nil {
		return PinView{}, errs
	}
	if errs := blob.Validate(in.Files, s.limits()); len(errs) > 0 {
		return PinView{}, fieldErrors(errs)
	}

	user, err := s.store.GetUser(ctx, id.UserID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return PinView{}, domainError(http.StatusUnauthorized, "UNKNOWN_USER", "Unknown user", nil)
		}
		return PinView{}, err
	}

	pin, root, err := s.store.CreatePin(ctx, store.Pin{
		AppID:    id.AppID,
		UserID:   user.ID,
		PagePath: in.PagePath,
		Path:     in.Path,
		W:        in.W,
		NormX:    in.NormX,
		NormY:    in.NormY,
		RelX:     in.RelX,
		RelY:     in.RelY,
	}, in.Text)
	if err != nil {
		return PinView{}, err
	}

	attachments, err := s.storeAttachments(ctx, root.ID, in.Files)
	if err != nil {
		return PinView{}, err
	}

	s.search.IndexPin(search.Record{
		ID:       pin.ID,
		AppID:    pin.AppID,
		PagePath: pin.PagePath,
		Text:     root.Text,
		UserName: user.Name,
	})
	s.invalidate(ctx, id.AppID, pin.PagePath)

	rootView := s.commentView(root, attachments)
	rootView.User = &UserView{ID: user.ID, Name: user.Name}
	return PinView{
		ID:       pin.ID,
		PagePath: pin.PagePath,
		Path:     pin.Path,
		W:        pin.W,
		NormX:    pin.NormX,
		NormY:    pin.NormY,
		RelX:     pin.RelX,
		RelY:     pin.RelY,
		User:     &UserView{ID: user.ID, Name: user.Name},
		Comment:  &rootView,
	}, nil
}

func (s *Service) storeAttachments(ctx context.Context, commentID int64, files []*multipart.FileHeader) ([]AttachmentView, error) {
	var views []AttachmentView
	for _, fh := range files {
		key, data, err := s.blob.Store(ctx, fh)
		if err != nil {
			return nil, fmt.Errorf("store attachment: %w", err)
		}
		raw, _ := json.Marshal(data)
		record, err := s.store.CreateAttachment(ctx, store.Attachment{
			CommentID: commentID,
			ObjectKey: key,
			Data:      raw,
		})
		if err != nil {
			s.blob.Remove(ctx, []string{key})
			return nil, err
		}
		views = append(views, AttachmentView{ID: record.ID, URL: s.blob.URL(key), Data: data})
	}
	return views, nil
}

// CompletePin marks a pin done or not done. A toggle that changes nothing
// is still a success; the guard exists for concurrent writers.
func (s *Service) CompletePin(ctx context.Context, id Identity, pinID int64, done bool) error {
	pin, err := s.store.GetPin(ctx, pinID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Pin not found", nil)
		}
		return err
	}

	if _, err := s.store.CompletePin(ctx, pinID, id.AppID, id.UserID, done); err != nil {
		return err
	}
	s.invalidate(ctx, id.AppID, pin.PagePath)
	return nil
}

// DeletePin removes an author's pin with its thread and attachment blobs.
// A non-author call affects zero rows and still reports success; the
// caller sees "nothing changed", never a permission hint.
func (s *Service) DeletePin(ctx context.Context, id Identity, pinID int64) error {
	pin, err := s.store.GetPin(ctx, pinID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Pin not found", nil)
		}
		return err
	}

	keys, err := s.store.AttachmentKeysForPin(ctx, pinID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeletePin(ctx, pinID, id.AppID, id.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	s.blob.Remove(ctx, keys)
	s.search.DeletePin(pinID)
	s.invalidate(ctx, id.AppID, pin.PagePath)
	return nil
}

// ListComments returns a pin's replies, oldest first. The root comment is
// not part of the thread; it travels embedded in the pin.
func (s *Service) ListComments(ctx context.Context, id Identity, pinID int64) ([]CommentView, error) {
	if _, err := s.store.GetPin(ctx, pinID, id.AppID); err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Pin not found", nil)
		}
		return nil, err
	}

	comments, err := s.store.ListComments(ctx, pinID, id.AppID)
	if err != nil {
		return nil, err
	}

	commentIDs := make([]int64, len(comments))
	for i, c := range comments {
		commentIDs[i] = c.ID
	}
	attachments, err := s.attachmentViews(ctx, commentIDs)
	if err != nil {
		return nil, err
	}

	views := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		views = append(views, s.commentView(c, attachments[c.ID]))
	}
	return views, nil
}

type CreateCommentInput struct {
	Text  string `json:"text" validate:"required"`
	Files []*multipart.FileHeader
}

// CreateComment appends a reply to a pin's thread.
func (s *Service) CreateComment(ctx context.Context, id Identity, pinID int64, in CreateCommentInput) (CommentView, error) {
	in.Text = strings.TrimSpace(in.Text)
	if errs := s.fieldErrors(in); errs != nil {
		return CommentView{}, errs
	}
	if errs := blob.Validate(in.Files, s.limits()); len(errs) > 0 {
		return CommentView{}, fieldErrors(errs)
	}

	pin, err := s.store.GetPin(ctx, pinID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return CommentView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Pin not found", nil)
		}
		return CommentView{}, err
	}

	user, err := s.store.GetUser(ctx, id.UserID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return CommentView{}, domainError(http.StatusUnauthorized, "UNKNOWN_USER", "Unknown user", nil)
		}
		return CommentView{}, err
	}

	comment, err := s.store.CreateComment(ctx, store.Comment{
		PinID:  pinID,
		UserID: user.ID,
		Text:   in.Text,
	})
	if err != nil {
		return CommentView{}, err
	}

	attachments, err := s.storeAttachments(ctx, comment.ID, in.Files)
	if err != nil {
		return CommentView{}, err
	}

	// Reply counts live in the cached collection.
	s.invalidate(ctx, id.AppID, pin.PagePath)

	view := s.commentView(comment, attachments)
	view.User = &UserView{ID: user.ID, Name: user.Name}
	return view, nil
}

type UpdateCommentInput struct {
	Text string `json:"text" validate:"required"`
}

// UpdateComment rewrites one of the caller's comments. Editing the root
// comment refreshes the search index, since that is what search matches.
func (s *Service) UpdateComment(ctx context.Context, id Identity, commentID int64, in UpdateCommentInput) error {
	in.Text = strings.TrimSpace(in.Text)
	if errs := s.fieldErrors(in); errs != nil {
		return errs
	}

	comment, err := s.store.GetComment(ctx, commentID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
		}
		return err
	}

	updated, err := s.store.UpdateComment(ctx, commentID, id.UserID, in.Text)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	if roots, err := s.store.RootComments(ctx, []int64{comment.PinID}); err == nil {
		if root, ok := roots[comment.PinID]; ok && root.ID == commentID {
			if pin, err := s.store.GetPin(ctx, comment.PinID, id.AppID); err == nil {
				s.search.IndexPin(search.Record{
					ID:       pin.ID,
					AppID:    pin.AppID,
					PagePath: pin.PagePath,
					Text:     in.Text,
					UserName: pin.UserName,
				})
				s.invalidate(ctx, id.AppID, pin.PagePath)
			}
		}
	}
	return nil
}

// DeleteComment removes one of the caller's replies and its attachments.
// The root comment cannot be deleted on its own.
func (s *Service) DeleteComment(ctx context.Context, id Identity, commentID int64) error {
	comment, err := s.store.GetComment(ctx, commentID, id.AppID)
	if err != nil {
		if store.IsNotFound(err) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
		}
		return err
	}

	keys, err := s.store.AttachmentKeysForComment(ctx, commentID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteComment(ctx, commentID, id.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	s.blob.Remove(ctx, keys)
	if pin, err := s.store.GetPin(ctx, comment.PinID, id.AppID); err == nil {
		s.invalidate(ctx, id.AppID, pin.PagePath)
	}
	return nil
}

func (s *Service) limits() blob.Limits {
	return blob.Limits{
		MaxCount:     s.overlay.Attachments.MaxCount,
		MaxSizeBytes: s.overlay.Attachments.MaxSizeBytes,
		Types:        s.overlay.Attachments.Types,
	}
}

func (s *Service) invalidate(ctx context.Context, appID, pagePath string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, appID, pagePath)
	}
}
