package audit

import "time"

// Entry represents one append-only record in audit_logs.
type Entry struct {
	ID        int64
	Action    string
	Resource  string
	EntityID  string
	ActorID   int64
	IP        string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}

// Diff carries an optional previous/next snapshot pair for diffable
// mutations such as a role rename. Absence means "no structured detail".
type Diff struct {
	Previous any `json:"previous"`
	Next     any `json:"next"`
}

// Filters narrows audit queries. Action matches exactly, unless it ends
// with a dot, in which case it matches as a prefix ("rbac." matches every
// RBAC action).
type Filters struct {
	Action  string
	ActorID int64
	From    time.Time
	To      time.Time
	Page    int
	Limit   int
}

// Result bundles one page of entries with the window-independent total.
type Result struct {
	Entries []Entry
	Total   int
	Page    int
	Limit   int
}
