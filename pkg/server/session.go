package server

import (
	"time"
)

// Conn abstracts a client connection so TCP and WebSocket transports share
// the session and dispatch code.
type Conn interface {
	// WriteLine sends one protocol line; the transport appends the newline.
	WriteLine(line string) error
	// RemoteIP is the peer address without the port.
	RemoteIP() string
	Close() error
}

// Session state bits. A command's availability depends on how far the
// handshake has progressed.
const (
	stateConnected  uint8 = 1 << 0
	stateIntroduced uint8 = 1 << 1 // valid PCLIENT received
	stateSentInfo   uint8 = 1 << 2 // INFO with a player name received
	stateAuthed     uint8 = 1 << 3 // AUTH succeeded
)

// Session is the server-side state of one client connection. All fields are
// owned by the tick goroutine; transports only carry the pointer in events.
type Session struct {
	clientID int32
	conn     Conn

	state   uint8
	version int
	name    string

	// token identifies the client across reconnects
	token string

	connectTime  time.Time
	lastActivity time.Time

	// chat flood control
	chatWindowStart time.Time
	chatCount       int
	muteUntil       time.Time
}

func newSession(conn Conn) *Session {
	now := time.Now()
	return &Session{
		clientID:     -1,
		conn:         conn,
		state:        stateConnected,
		name:         "unnamed",
		connectTime:  now,
		lastActivity: now,
	}
}

func (sess *Session) has(flag uint8) bool { return sess.state&flag != 0 }

// ClientID returns the session's assigned client id, -1 before PCLIENT.
func (sess *Session) ClientID() int32 { return sess.clientID }

// Name returns the player name set via INFO.
func (sess *Session) Name() string { return sess.name }

// allowChat applies the flood rule: every chat attempt counts against the
// current window, and reaching the per-interval limit mutes the client for
// the mute duration. Muted clients may not chat and consume no budget.
func (sess *Session) allowChat(now time.Time, interval time.Duration, perInterval int, mute time.Duration) bool {
	if now.Before(sess.muteUntil) {
		return false
	}

	if now.Sub(sess.chatWindowStart) > interval {
		sess.chatWindowStart = now
		sess.chatCount = 0
	}

	sess.chatCount++
	if sess.chatCount >= perInterval {
		sess.muteUntil = now.Add(mute)
		return false
	}
	return true
}
