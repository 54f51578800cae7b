package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

// Settings are per-guild tunables, created with defaults on first touch.
type Settings struct {
	GuildID               string
	PlaylistLimit         int
	SecondsWaitAfterEmpty int
	LeaveIfNoListeners    bool
	QAddEphemeral         bool
	AutoAnnounceNext      bool
	DefaultQueuePageSize  int
}

type Favorite struct {
	ID      int64
	GuildID string
	Author  string
	Name    string
	Query   string
}
