package server

import "time"

// ArchiveEntry is the persisted remainder of a disconnected session: enough
// to give a returning client its old identity back.
type ArchiveEntry struct {
	Token      string
	ClientID   int32
	Name       string
	LogoutTime time.Time
}

// Database persists the reconnect archive across server restarts.
type Database interface {
	// SaveArchiveEntry stores or replaces the entry for a token.
	SaveArchiveEntry(e ArchiveEntry) error

	// DeleteArchiveEntry removes the entry for a token. Deleting an unknown
	// token is not an error.
	DeleteArchiveEntry(token string) error

	// LoadArchive returns all stored entries.
	LoadArchive() ([]ArchiveEntry, error)

	// Close closes the database connection.
	Close() error
}
