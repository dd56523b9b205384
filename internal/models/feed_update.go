package models

import (
	"time"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/update"
)

type EntityCounts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// UpdateResult reports a feed update that just ran.
type UpdateResult struct {
	UpdateID     string                  `json:"updateId"`
	Status       string                  `json:"status"`
	Result       string                  `json:"result"`
	ContentHash  string                  `json:"contentHash,omitempty"`
	ElapsedMs    int64                   `json:"elapsedMs"`
	CountsByKind map[string]EntityCounts `json:"countsByKind"`
}

func NewUpdateResult(r update.Result) UpdateResult {
	counts := make(map[string]EntityCounts, len(r.CountsByKind))
	for kind, c := range r.CountsByKind {
		counts[string(kind)] = EntityCounts{Added: c.Added, Updated: c.Updated, Deleted: c.Deleted}
	}
	return UpdateResult{
		UpdateID:     r.UpdateID,
		Status:       string(r.Status),
		Result:       string(r.Result),
		ContentHash:  r.ContentHash,
		ElapsedMs:    r.Elapsed.Milliseconds(),
		CountsByKind: counts,
	}
}

// FeedUpdate is a recorded feed update.
type FeedUpdate struct {
	UpdateID      string     `json:"updateId"`
	Status        string     `json:"status"`
	Result        string     `json:"result,omitempty"`
	ContentHash   string     `json:"contentHash,omitempty"`
	ContentLength *int64     `json:"contentLength,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

func NewFeedUpdate(u gtfsdb.FeedUpdate) FeedUpdate {
	out := FeedUpdate{
		UpdateID:     u.UpdateID,
		Status:       u.Status,
		Result:       u.Result.String,
		ContentHash:  u.ContentHash.String,
		ErrorMessage: u.ErrorMessage.String,
		StartedAt:    time.Unix(u.StartedAt, 0).UTC(),
		EndedAt:      gtfsdb.TimeFromNull(u.EndedAt),
	}
	if u.ContentLength.Valid {
		out.ContentLength = &u.ContentLength.Int64
	}
	return out
}

func NewFeedUpdates(in []gtfsdb.FeedUpdate) []FeedUpdate {
	out := make([]FeedUpdate, 0, len(in))
	for _, u := range in {
		out = append(out, NewFeedUpdate(u))
	}
	return out
}
