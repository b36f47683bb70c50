package domain

import (
	"encoding/json"
	"time"
)

// Activity is an audit record of a user action on their files.
type Activity struct {
	ActivityID string          `db:"activity_id" json:"activity_id"`
	UserID     string          `db:"user_id" json:"user_id"`
	Action     ActivityAction  `db:"action" json:"action"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
