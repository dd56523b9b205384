package models

import (
	"time"

	"transiter.dev/transiter/internal/alerts"
)

type AlertMessage struct {
	Header      string  `json:"header"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	Language    *string `json:"language,omitempty"`
}

type Alert struct {
	ID        string         `json:"id"`
	Cause     string         `json:"cause"`
	Effect    string         `json:"effect"`
	StartsAt  *time.Time     `json:"startsAt,omitempty"`
	EndsAt    *time.Time     `json:"endsAt,omitempty"`
	SortOrder *int32         `json:"sortOrder,omitempty"`
	Messages  []AlertMessage `json:"messages"`
}

func NewAlert(a alerts.ActiveAlert) Alert {
	out := Alert{
		ID:        a.ID,
		Cause:     a.Cause,
		Effect:    a.Effect,
		StartsAt:  a.StartsAt,
		EndsAt:    a.EndsAt,
		SortOrder: a.SortOrder,
		Messages:  make([]AlertMessage, 0, len(a.Messages)),
	}
	for _, m := range a.Messages {
		out.Messages = append(out.Messages, AlertMessage{
			Header:      m.Header,
			Description: m.Description,
			URL:         m.URL,
			Language:    m.Language,
		})
	}
	return out
}

// NewAlertsByEntity converts matcher output keyed by entity id. Entities
// without alerts map to an empty list.
func NewAlertsByEntity(in map[string][]alerts.ActiveAlert) map[string][]Alert {
	out := make(map[string][]Alert, len(in))
	for id, list := range in {
		converted := make([]Alert, 0, len(list))
		for _, a := range list {
			converted = append(converted, NewAlert(a))
		}
		out[id] = converted
	}
	return out
}
