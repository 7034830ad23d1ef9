package model

import "time"

// StateExport is the top-level JSON structure written by the export command.
type StateExport struct {
	ExportedAt time.Time         `json:"exported_at"`
	Store      string            `json:"store"`
	Profile    Profile           `json:"profile"`
	State      *UserState        `json:"state"`
	History    []SnapshotVersion `json:"history,omitempty"`
}

// SnapshotVersion is one archived copy of the state document.
type SnapshotVersion struct {
	ID        int64     `json:"id"`
	SavedAt   time.Time `json:"saved_at"`
	TotalExp  int64     `json:"total_exp"`
	SizeBytes int       `json:"size_bytes"`
}
