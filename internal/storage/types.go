package storage

import "time"

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// RequestRecord maps a board card to the requester who created it.
//
// ChatID may be 0 when the originating chat could not be resolved; such
// records still round-trip, the notification path just skips them.
type RequestRecord struct {
	CardID    string
	UserID    int64
	ChatID    int64
	Title     string
	CreatedAt time.Time
}
