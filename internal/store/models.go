package store

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type User struct {
	ID         int64     `db:"id"`
	ExternalID string    `db:"external_id"`
	AppID      string    `db:"app_id"`
	Name       string    `db:"name"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type Pin struct {
	ID          int64      `db:"id"`
	AppID       string     `db:"app_id"`
	UserID      int64      `db:"user_id"`
	PagePath    string     `db:"page_path"`
	Path        string     `db:"path"`
	W           float64    `db:"w"`
	NormX       float64    `db:"norm_x"`
	NormY       float64    `db:"norm_y"`
	RelX        float64    `db:"rel_x"`
	RelY        float64    `db:"rel_y"`
	CompletedAt *time.Time `db:"completed_at"`
	CompletedBy *int64     `db:"completed_by"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`

	// Joined columns, populated by the listing queries.
	UserName     string `db:"user_name"`
	TotalReplies int    `db:"total_replies"`
}

type Comment struct {
	ID        int64     `db:"id"`
	PinID     int64     `db:"pin_id"`
	UserID    int64     `db:"user_id"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	UserName string `db:"user_name"`
}

type Attachment struct {
	ID        int64          `db:"id"`
	CommentID int64          `db:"comment_id"`
	ObjectKey string         `db:"object_key"`
	Data      types.JSONText `db:"data"`
	CreatedAt time.Time      `db:"created_at"`
}

// PinFilter narrows the pin listing. Zero values mean "no constraint".
type PinFilter struct {
	AppID    string
	PagePath string
	// UserID restricts to one author's pins (the "mine" toggle).
	UserID int64
	// IDs restricts to an explicit set, used by the search fallback.
	IDs []int64
}
