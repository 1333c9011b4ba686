// Package audit keeps a journal of cache lifecycle events: installs,
// activations, refreshes, syncs and retired workers.
package audit

import "time"

// Action describes what was done.
type Action string

const (
	ActionInstalled     Action = "installed"
	ActionActivated     Action = "activated"
	ActionRedundant     Action = "redundant"
	ActionRefreshed     Action = "refreshed"
	ActionRefreshFailed Action = "refresh_failed"
	ActionSynced        Action = "synced"
	ActionSyncFailed    Action = "sync_failed"
)

// Entry is a single journal record.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	Generation string    `json:"generation"`
	Worker     string    `json:"worker,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Paths      []string  `json:"paths,omitempty"`
	Error      string    `json:"error,omitempty"`
}
