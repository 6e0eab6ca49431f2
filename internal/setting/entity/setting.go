package entity

import "time"

const CategoryCirculation = "circulation"

// Setting is one persisted policy override. Value holds the textual form
// accepted by the matching environment variable.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Category  string    `db:"category" json:"category"`
	Value     string    `db:"value" json:"value"`
	Version   int64     `db:"version" json:"version"`
	UpdatedBy *int64    `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
