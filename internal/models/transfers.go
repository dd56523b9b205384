package models

import (
	"transiter.dev/transiter/internal/transfers"
)

type Transfer struct {
	FromSystemID string  `json:"fromSystemId"`
	FromStopID   string  `json:"fromStopId"`
	ToSystemID   string  `json:"toSystemId"`
	ToStopID     string  `json:"toStopId"`
	Type         string  `json:"type"`
	Distance     float64 `json:"distance"`
}

type TransfersConfig struct {
	ID        int64      `json:"id"`
	Distance  float64    `json:"distance"`
	SystemIDs []string   `json:"systemIds"`
	Transfers []Transfer `json:"transfers,omitempty"`
}

func NewTransfers(in []transfers.Transfer) []Transfer {
	out := make([]Transfer, 0, len(in))
	for _, t := range in {
		out = append(out, Transfer{
			FromSystemID: t.FromSystemID,
			FromStopID:   t.FromStopID,
			ToSystemID:   t.ToSystemID,
			ToStopID:     t.ToStopID,
			Type:         string(t.Type),
			Distance:     t.Distance,
		})
	}
	return out
}

func NewTransfersConfig(c transfers.Config) TransfersConfig {
	return TransfersConfig{
		ID:        c.Pk,
		Distance:  c.Distance,
		SystemIDs: c.SystemIDs,
		Transfers: NewTransfers(c.Transfers),
	}
}
