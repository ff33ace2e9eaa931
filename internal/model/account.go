package model

import "time"

// AccountUsage tracks how many scans an owner has run in the current period.
type AccountUsage struct {
	Owner        string    `json:"owner"`
	Plan         string    `json:"plan"`
	ScansUsed    int       `json:"scansUsed"`
	PeriodAnchor time.Time `json:"periodAnchor"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
