// Package protocol defines the line-based wire protocol primitives shared by
// server and clients: tokenization, error codes, version packing and the
// snapshot type identifiers.
package protocol

// Protocol version. Clients must match major and minor exactly; revision may
// differ.
const (
	VersionMajor    = 1
	VersionMinor    = 0
	VersionRevision = 2
)

// MakeVersion packs a major.minor.revision triple into one integer as sent in
// PCLIENT and PSERVER messages.
func MakeVersion(major, minor, revision int) int {
	return major<<16 | minor<<8 | revision
}

// VersionMajorOf extracts the major component of a packed version.
func VersionMajorOf(v int) int { return (v >> 16) & 0xff }

// VersionMinorOf extracts the minor component of a packed version.
func VersionMinorOf(v int) int { return (v >> 8) & 0xff }

// VersionRevisionOf extracts the revision component of a packed version.
func VersionRevisionOf(v int) int { return v & 0xff }

// Compatible reports whether a client version may talk to this server.
func Compatible(v int) bool {
	return VersionMajorOf(v) == VersionMajor && VersionMinorOf(v) == VersionMinor
}

// Error codes carried in ERR responses.
const (
	ErrGeneric             = 0
	ErrServerFull          = 1
	ErrMaxConnectionsPerIP = 2
	ErrWrongVersion        = 3
	ErrNoPermission        = 4
	ErrProtocol            = 5
	ErrNotImplemented      = 6
	ErrParameters          = 7
)

// Snapshot type identifiers (first field of SNAP pushes).
const (
	SnapGameState = 1
	SnapTable     = 2
	SnapHoleCards = 3
)

// Game type / mode / state identifiers used in GAMEINFO pushes.
const (
	GameTypeHoldem = 1

	GameModeRingGame  = 1
	GameModeFreezeOut = 2
	GameModeSNG       = 3

	GameStateWaiting = 1
	GameStateStarted = 2
	GameStateEnded   = 3
)
