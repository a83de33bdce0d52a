package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser registers or refreshes a host user, keyed by (external_id,
// app_id). Re-registering updates the display name.
func (s *PostgresStore) UpsertUser(ctx context.Context, externalID, appID, name string) (User, error) {
	const query = `
		INSERT INTO users (external_id, app_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id, app_id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, external_id, app_id, name, created_at, updated_at
	`
	var user User
	if err := s.db.GetContext(ctx, &user, query, externalID, appID, name); err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64, appID string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, external_id, app_id, name, created_at, updated_at FROM users WHERE id=$1 AND app_id=$2`,
		id, appID)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListPins returns the pins matching the filter, newest first, with the
// author name and reply count joined in. The root comment counts as a
// comment but not as a reply.
func (s *PostgresStore) ListPins(ctx context.Context, filter PinFilter) ([]Pin, error) {
	builder := psql.Select(
		"p.id", "p.app_id", "p.user_id", "p.page_path", "p.path",
		"p.w", "p.norm_x", "p.norm_y", "p.rel_x", "p.rel_y",
		"p.completed_at", "p.completed_by", "p.created_at", "p.updated_at",
		"u.name AS user_name",
		"(SELECT COUNT(*) - 1 FROM comments c WHERE c.pin_id = p.id) AS total_replies",
	).
		From("pins p").
		Join("users u ON u.id = p.user_id").
		Where(sq.Eq{"p.app_id": filter.AppID}).
		OrderBy("p.id DESC")

	if filter.PagePath != "" {
		builder = builder.Where(sq.Eq{"p.page_path": filter.PagePath})
	}
	if filter.UserID != 0 {
		builder = builder.Where(sq.Eq{"p.user_id": filter.UserID})
	}
	if filter.IDs != nil {
		builder = builder.Where(sq.Eq{"p.id": filter.IDs})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pin query: %w", err)
	}

	var pins []Pin
	if err := s.db.SelectContext(ctx, &pins, query, args...); err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	return pins, nil
}

func (s *PostgresStore) GetPin(ctx context.Context, id int64, appID string) (Pin, error) {
	const query = `
		SELECT p.id, p.app_id, p.user_id, p.page_path, p.path,
		       p.w, p.norm_x, p.norm_y, p.rel_x, p.rel_y,
		       p.completed_at, p.completed_by, p.created_at, p.updated_at,
		       u.name AS user_name,
		       (SELECT COUNT(*) - 1 FROM comments c WHERE c.pin_id = p.id) AS total_replies
		FROM pins p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = $1 AND p.app_id = $2
	`
	var pin Pin
	if err := s.db.GetContext(ctx, &pin, query, id, appID); err != nil {
		return Pin{}, err
	}
	return pin, nil
}

// CreatePin inserts the pin and its root comment in one transaction.
func (s *PostgresStore) CreatePin(ctx context.Context, pin Pin, rootText string) (Pin, Comment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Pin{}, Comment{}, fmt.Errorf("begin create pin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertPin = `
		INSERT INTO pins (app_id, user_id, page_path, path, w, norm_x, norm_y, rel_x, rel_y)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, app_id, user_id, page_path, path, w, norm_x, norm_y, rel_x, rel_y,
		          completed_at, completed_by, created_at, updated_at
	`
	var created Pin
	err = tx.GetContext(ctx, &created, insertPin,
		pin.AppID, pin.UserID, pin.PagePath, pin.Path,
		pin.W, pin.NormX, pin.NormY, pin.RelX, pin.RelY)
	if err != nil {
		return Pin{}, Comment{}, fmt.Errorf("insert pin: %w", err)
	}

	const insertRoot = `
		INSERT INTO comments (pin_id, user_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, pin_id, user_id, text, created_at, updated_at
	`
	var root Comment
	if err := tx.GetContext(ctx, &root, insertRoot, created.ID, pin.UserID, rootText); err != nil {
		return Pin{}, Comment{}, fmt.Errorf("insert root comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Pin{}, Comment{}, fmt.Errorf("commit create pin: %w", err)
	}
	return created, root, nil
}

// RootComments loads the first comment of each given pin, keyed by pin id.
func (s *PostgresStore) RootComments(ctx context.Context, pinIDs []int64) (map[int64]Comment, error) {
	if len(pinIDs) == 0 {
		return map[int64]Comment{}, nil
	}

	query, args, err := psql.Select(
		"DISTINCT ON (c.pin_id) c.id", "c.pin_id", "c.user_id", "c.text",
		"c.created_at", "c.updated_at", "u.name AS user_name",
	).
		From("comments c").
		Join("users u ON u.id = c.user_id").
		Where(sq.Eq{"c.pin_id": pinIDs}).
		OrderBy("c.pin_id", "c.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build root comment query: %w", err)
	}

	var roots []Comment
	if err := s.db.SelectContext(ctx, &roots, query, args...); err != nil {
		return nil, fmt.Errorf("load root comments: %w", err)
	}

	byPin := make(map[int64]Comment, len(roots))
	for _, root := range roots {
		byPin[root.PinID] = root
	}
	return byPin, nil
}

// CompletePin marks a pin done or not done. The IS NULL / IS NOT NULL guard
// makes concurrent toggles settle on exactly one transition; a no-op toggle
// reports false.
func (s *PostgresStore) CompletePin(ctx context.Context, id int64, appID string, userID int64, done bool) (bool, error) {
	var result sql.Result
	var err error
	if done {
		result, err = s.db.ExecContext(ctx, `
			UPDATE pins SET completed_at = NOW(), completed_by = $3, updated_at = NOW()
			WHERE id = $1 AND app_id = $2 AND completed_at IS NULL
		`, id, appID, userID)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE pins SET completed_at = NULL, completed_by = NULL, updated_at = NOW()
			WHERE id = $1 AND app_id = $2 AND completed_at IS NOT NULL
		`, id, appID)
	}
	if err != nil {
		return false, fmt.Errorf("complete pin: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete pin: %w", err)
	}
	return affected > 0, nil
}

// DeletePin removes an author's pin; comments and attachments go with it
// via cascade. Deleting someone else's pin is a silent no-op.
func (s *PostgresStore) DeletePin(ctx context.Context, id int64, appID string, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pins WHERE id = $1 AND app_id = $2 AND user_id = $3`,
		id, appID, userID)
	if err != nil {
		return false, fmt.Errorf("delete pin: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pin: %w", err)
	}
	return affected > 0, nil
}

// ListComments returns a pin's replies in creation order. OFFSET 1 drops
// the root comment, which travels embedded in the pin.
func (s *PostgresStore) ListComments(ctx context.Context, pinID int64, appID string) ([]Comment, error) {
	const query = `
		SELECT c.id, c.pin_id, c.user_id, c.text, c.created_at, c.updated_at,
		       u.name AS user_name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		JOIN pins p ON p.id = c.pin_id
		WHERE c.pin_id = $1 AND p.app_id = $2
		ORDER BY c.id ASC
		OFFSET 1
	`
	var comments []Comment
	if err := s.db.SelectContext(ctx, &comments, query, pinID, appID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	const query = `
		INSERT INTO comments (pin_id, user_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, pin_id, user_id, text, created_at, updated_at
	`
	var created Comment
	if err := s.db.GetContext(ctx, &created, query, comment.PinID, comment.UserID, comment.Text); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id int64, appID string) (Comment, error) {
	const query = `
		SELECT c.id, c.pin_id, c.user_id, c.text, c.created_at, c.updated_at,
		       u.name AS user_name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		JOIN pins p ON p.id = c.pin_id
		WHERE c.id = $1 AND p.app_id = $2
	`
	var comment Comment
	if err := s.db.GetContext(ctx, &comment, query, id, appID); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// UpdateComment rewrites an author's comment text. Scoped to the author;
// anyone else gets a silent no-op.
func (s *PostgresStore) UpdateComment(ctx context.Context, id, userID int64, text string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE comments SET text = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		id, userID, text)
	if err != nil {
		return false, fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update comment: %w", err)
	}
	return affected > 0, nil
}

// DeleteComment removes an author's reply. The root comment is protected:
// it only goes away with its pin.
func (s *PostgresStore) DeleteComment(ctx context.Context, id, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comments
		WHERE id = $1 AND user_id = $2
		  AND id <> (SELECT MIN(c2.id) FROM comments c2 WHERE c2.pin_id = comments.pin_id)
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, att Attachment) (Attachment, error) {
	const query = `
		INSERT INTO attachments (comment_id, object_key, data)
		VALUES ($1, $2, $3)
		RETURNING id, comment_id, object_key, data, created_at
	`
	var created Attachment
	if err := s.db.GetContext(ctx, &created, query, att.CommentID, att.ObjectKey, att.Data); err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return created, nil
}

// ListAttachments loads the attachments of the given comments.
func (s *PostgresStore) ListAttachments(ctx context.Context, commentIDs []int64) ([]Attachment, error) {
	if len(commentIDs) == 0 {
		return nil, nil
	}

	query, args, err := psql.Select("id", "comment_id", "object_key", "data", "created_at").
		From("attachments").
		Where(sq.Eq{"comment_id": commentIDs}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build attachment query: %w", err)
	}

	var attachments []Attachment
	if err := s.db.SelectContext(ctx, &attachments, query, args...); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

// AttachmentKeysForPin returns the object keys under a pin, so blobs can be
// removed before the row cascade wipes the records.
func (s *PostgresStore) AttachmentKeysForPin(ctx context.Context, pinID int64) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
		SELECT a.object_key
		FROM attachments a
		JOIN comments c ON c.id = a.comment_id
		WHERE c.pin_id = $1
	`, pinID)
	if err != nil {
		return nil, fmt.Errorf("attachment keys for pin: %w", err)
	}
	return keys, nil
}

// AttachmentKeysForComment returns a single comment's object keys.
func (s *PostgresStore) AttachmentKeysForComment(ctx context.Context, commentID int64) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys,
		`SELECT object_key FROM attachments WHERE comment_id = $1`, commentID)
	if err != nil {
		return nil, fmt.Errorf("attachment keys for comment: %w", err)
	}
	return keys, nil
}

// PinSearchRow is the searchable projection of a pin: its root comment text
// and author name.
type PinSearchRow struct {
	PinID    int64  `db:"pin_id"`
	PagePath string `db:"page_path"`
	Text     string `db:"text"`
	UserName string `db:"user_name"`
}

// PinSearchRows loads the searchable rows for a page, for the in-process
// search fallback and for reindexing.
func (s *PostgresStore) PinSearchRows(ctx context.Context, appID, pagePath string) ([]PinSearchRow, error) {
	builder := psql.Select(
		"DISTINCT ON (c.pin_id) c.pin_id", "p.page_path", "c.text", "u.name AS user_name",
	).
		From("comments c").
		Join("users u ON u.id = c.user_id").
		Join("pins p ON p.id = c.pin_id").
		Where(sq.Eq{"p.app_id": appID}).
		OrderBy("c.pin_id", "c.id ASC")
	if pagePath != "" {
		builder = builder.Where(sq.Eq{"p.page_path": pagePath})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search rows query: %w", err)
	}

	var rows []PinSearchRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load search rows: %w", err)
	}
	return rows, nil
}

// AppIDs lists every app that has pins, for startup reindexing.
func (s *PostgresStore) AppIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT app_id FROM pins`); err != nil {
		return nil, fmt.Errorf("list app ids: %w", err)
	}
	return ids, nil
}

// IsNotFound reports whether err is the store's row-missing error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
