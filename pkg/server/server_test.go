package server

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxq2537664558/holdingnuts/pkg/config"
	"github.com/lxq2537664558/holdingnuts/pkg/protocol"
)

// memDB is an in-memory Database for tests.
type memDB struct {
	mu      sync.Mutex
	entries map[string]ArchiveEntry
	deletes int
}

func newMemDB() *memDB {
	return &memDB{entries: make(map[string]ArchiveEntry)}
}

func (m *memDB) SaveArchiveEntry(e ArchiveEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Token] = e
	return nil
}

func (m *memDB) DeleteArchiveEntry(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	m.deletes++
	return nil
}

func (m *memDB) LoadArchive() ([]ArchiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ArchiveEntry
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memDB) Close() error { return nil }

// fakeConn records written lines.
type fakeConn struct {
	mu     sync.Mutex
	ip     string
	lines  []string
	closed bool
}

func (c *fakeConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	return nil
}

func (c *fakeConn) RemoteIP() string { return c.ip }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *fakeConn) lastLine() string {
	lines := c.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestServer(t *testing.T) (*Server, *memDB) {
	t.Helper()
	db := newMemDB()
	s, err := NewServer(config.Default(), db, slog.Disabled)
	require.NoError(t, err)
	return s, db
}

// connect attaches a fake connection and returns its session.
func connect(s *Server, ip string) (*Session, *fakeConn) {
	conn := &fakeConn{ip: ip}
	sess := newSession(conn)
	s.handleEvent(event{kind: evConnect, sess: sess})
	return sess, conn
}

func clientVersion() int {
	return protocol.MakeVersion(protocol.VersionMajor, protocol.VersionMinor, protocol.VersionRevision)
}

// hello performs the full handshake including a player name.
func hello(s *Server, name string) (*Session, *fakeConn) {
	sess, conn := connect(s, "10.0.0."+name)
	s.handleLine(sess, fmt.Sprintf("PCLIENT %d", clientVersion()))
	s.handleLine(sess, "INFO name:"+name)
	return sess, conn
}

func TestGreetingAndHandshake(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := connect(s, "10.0.0.1")

	require.NotEmpty(t, conn.Lines())
	assert.True(t, strings.HasPrefix(conn.Lines()[0], "PSERVER "), conn.Lines()[0])
	assert.Equal(t, 1, s.ClientCount())

	s.handleLine(sess, fmt.Sprintf("PCLIENT %d", clientVersion()))
	reply := conn.lastLine()
	assert.True(t, strings.HasPrefix(reply, fmt.Sprintf("OK %d ", sess.clientID)), reply)
	assert.True(t, sess.has(stateIntroduced))
	assert.NotEmpty(t, sess.token, "server issues a reconnect token")
}

func TestWrongVersionRejected(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := connect(s, "10.0.0.1")

	bad := protocol.MakeVersion(protocol.VersionMajor+1, 0, 0)
	s.handleLine(sess, fmt.Sprintf("PCLIENT %d", bad))

	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrWrongVersion)), conn.lastLine())
	assert.True(t, conn.isClosed())
}

func TestCommandsRequireHandshake(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := connect(s, "10.0.0.1")

	s.handleLine(sess, "CHAT -1 hello")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrProtocol)), conn.lastLine())
	assert.True(t, conn.isClosed(), "pre-handshake commands are fatal")

	// QUIT gets no free pass before the handshake either
	sess2, conn2 := connect(s, "10.0.0.2")
	s.handleLine(sess2, "QUIT")
	assert.True(t, strings.HasPrefix(conn2.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrProtocol)), conn2.lastLine())
	assert.True(t, conn2.isClosed())
}

func TestMsgidEcho(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := connect(s, "10.0.0.1")

	s.handleLine(sess, fmt.Sprintf("42 PCLIENT %d", clientVersion()))
	assert.True(t, strings.HasPrefix(conn.lastLine(), "42 OK "), conn.lastLine())

	s.handleLine(sess, "7 BOGUS")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("7 ERR %d ", protocol.ErrNotImplemented)), conn.lastLine())
}

func TestAdmissionLimits(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.MaxClients = 1

	_, _ = connect(s, "10.0.0.1")
	_, conn2 := connect(s, "10.0.0.2")

	assert.True(t, strings.HasPrefix(conn2.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrServerFull)), conn2.lastLine())
	assert.True(t, conn2.isClosed())
	assert.Equal(t, 1, s.ClientCount())
}

func TestPerIPLimit(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.MaxConnectionsPerIP = 1

	_, _ = connect(s, "10.0.0.1")
	_, conn2 := connect(s, "10.0.0.1")

	assert.True(t, strings.HasPrefix(conn2.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrMaxConnectionsPerIP)), conn2.lastLine())

	_, conn3 := connect(s, "10.0.0.3")
	assert.True(t, strings.HasPrefix(conn3.lastLine(), "PSERVER "), "other addresses unaffected")
}

func TestReconnectReclaimsIdentity(t *testing.T) {
	s, db := newTestServer(t)

	sess, _ := connect(s, "10.0.0.1")
	s.handleLine(sess, fmt.Sprintf("PCLIENT %d mytoken", clientVersion()))
	s.handleLine(sess, "INFO name:Alice")
	oldID := sess.clientID
	assert.Len(t, s.archive, 1, "token bound at first INFO")

	s.handleEvent(event{kind: evDisconnect, sess: sess})
	assert.Len(t, s.archive, 1)
	assert.Len(t, db.entries, 1)

	sess2, conn2 := connect(s, "10.0.0.1")
	require.NotEqual(t, oldID, sess2.clientID)
	s.handleLine(sess2, fmt.Sprintf("PCLIENT %d mytoken", clientVersion()))

	assert.Equal(t, oldID, sess2.clientID, "archived identity reclaimed")
	assert.Equal(t, "Alice", sess2.name)
	assert.Empty(t, s.archive)
	assert.Empty(t, db.entries)
	assert.True(t, strings.HasPrefix(conn2.lastLine(), fmt.Sprintf("OK %d mytoken", oldID)), conn2.lastLine())
}

func TestTokenInUseDropsToken(t *testing.T) {
	s, _ := newTestServer(t)

	sess1, _ := connect(s, "10.0.0.1")
	s.handleLine(sess1, fmt.Sprintf("PCLIENT %d shared", clientVersion()))

	sess2, conn2 := connect(s, "10.0.0.2")
	s.handleLine(sess2, fmt.Sprintf("PCLIENT %d shared", clientVersion()))

	assert.Equal(t, "shared", sess1.token)
	assert.Empty(t, sess2.token, "second user of a live token gets none")
	assert.NotEqual(t, sess1.clientID, sess2.clientID)
	assert.Equal(t, fmt.Sprintf("OK %d", sess2.clientID), conn2.lastLine())
}

func TestArchiveExpiry(t *testing.T) {
	s, db := newTestServer(t)
	s.cfg.ConnArchiveExpire = time.Minute

	sess, _ := connect(s, "10.0.0.1")
	s.handleLine(sess, fmt.Sprintf("PCLIENT %d tok", clientVersion()))
	s.handleEvent(event{kind: evDisconnect, sess: sess})
	require.Len(t, s.archive, 1)

	s.expireArchive(time.Now().Add(30 * time.Second))
	assert.Len(t, s.archive, 1, "not expired yet")

	s.expireArchive(time.Now().Add(2 * time.Minute))
	assert.Empty(t, s.archive)
	assert.Empty(t, db.entries)
	assert.Equal(t, 1, db.deletes)
}

func TestArchiveKeepsLiveHolders(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.ConnArchiveExpire = time.Nanosecond

	sess, _ := connect(s, "10.0.0.1")
	s.handleLine(sess, fmt.Sprintf("PCLIENT %d tok", clientVersion()))
	s.handleLine(sess, "INFO name:Alice")
	require.Len(t, s.archive, 1)

	s.expireArchive(time.Now().Add(time.Hour))
	assert.Len(t, s.archive, 1, "entries of connected clients never expire")
}

func TestNextClientIDSurvivesRestart(t *testing.T) {
	db := newMemDB()
	db.entries["tok"] = ArchiveEntry{Token: "tok", ClientID: 41, Name: "Bob", LogoutTime: time.Now()}

	s, err := NewServer(config.Default(), db, slog.Disabled)
	require.NoError(t, err)

	sess, _ := connect(s, "10.0.0.1")
	assert.Equal(t, int32(42), sess.clientID)
}

func TestChatFloodMute(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.FloodChatPerInterval = 3
	s.cfg.FloodChatInterval = time.Hour
	s.cfg.FloodChatMute = time.Hour

	sess, conn := hello(s, "1")

	for i := 0; i < 2; i++ {
		s.handleLine(sess, "CHAT -1 hello")
		assert.NotContains(t, conn.lastLine(), "muted")
	}

	// the attempt that reaches the limit is itself rejected
	s.handleLine(sess, "CHAT -1 hello")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrNoPermission)), conn.lastLine())

	s.handleLine(sess, "CHAT -1 hello")
	assert.Contains(t, conn.lastLine(), "muted", "mute persists")
}

func TestFoyerChatBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	sess1, _ := hello(s, "1")
	_, conn2 := hello(s, "2")

	s.handleLine(sess1, "CHAT -1 hello everyone")

	found := false
	for _, l := range conn2.Lines() {
		if l == fmt.Sprintf("MSG %d \"1\" hello everyone", sess1.clientID) {
			found = true
		}
	}
	assert.True(t, found, "foyer chat reaches other clients: %v", conn2.Lines())
}

func TestCreateRegisterAndStart(t *testing.T) {
	s, _ := newTestServer(t)
	sess1, conn1 := hello(s, "1")
	sess2, conn2 := hello(s, "2")

	s.handleLine(sess1, "CREATE name:duel type:holdem players:2 stake:1000 timeout:30")
	assert.Equal(t, "OK 0", conn1.lastLine())
	require.Contains(t, s.games, int32(0))

	// the creator holds the first seat already
	require.True(t, s.games[0].IsPlayer(sess1.clientID))
	assert.Contains(t, conn1.Lines(), fmt.Sprintf("PLAYERLIST 0 %d", sess1.clientID))

	s.handleLine(sess2, "REGISTER 0")
	assert.Equal(t, "OK", conn2.lastLine())

	g := s.games[0]
	assert.Equal(t, 2, g.PlayerCount())
	assert.False(t, g.Started())

	s.tickGames()
	assert.True(t, g.Started())

	// both players got the running-game snapshot
	for _, conn := range []*fakeConn{conn1, conn2} {
		got := false
		for _, l := range conn.Lines() {
			if strings.HasPrefix(l, "SNAP 0:-1 1 start") {
				got = true
			}
		}
		assert.True(t, got, "missing game state snapshot: %v", conn.Lines())
	}
}

func TestRegisterLimits(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.MaxRegisterPerPlayer = 1
	sess1, _ := hello(s, "1")
	sess2, conn2 := hello(s, "2")

	s.handleLine(sess1, "CREATE players:3 stake:1000")
	s.handleLine(sess1, "CREATE players:3 stake:1000")

	s.handleLine(sess2, "REGISTER 0")
	assert.Equal(t, "OK", conn2.lastLine())
	s.handleLine(sess2, "REGISTER 1")
	assert.True(t, strings.HasPrefix(conn2.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrNoPermission)), conn2.lastLine())

	s.handleLine(sess2, "UNREGISTER 0")
	assert.Equal(t, "OK", conn2.lastLine())
	s.handleLine(sess2, "REGISTER 1")
	assert.Equal(t, "OK", conn2.lastLine())

	s.handleLine(sess2, "REGISTER 99")
	assert.True(t, strings.HasPrefix(conn2.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrParameters)), conn2.lastLine())
}

func TestDisconnectFreesUnstartedSeat(t *testing.T) {
	s, _ := newTestServer(t)
	sess1, conn1 := hello(s, "1")
	sess2, _ := hello(s, "2")

	s.handleLine(sess1, "CREATE players:3 stake:1000")
	s.handleLine(sess2, "REGISTER 0")

	g := s.games[0]
	require.Equal(t, 2, g.PlayerCount())

	s.handleEvent(event{kind: evDisconnect, sess: sess2})
	assert.Equal(t, 1, g.PlayerCount())
	assert.False(t, g.IsPlayer(sess2.clientID))

	// the remaining player is told about the shrunken roster
	assert.Equal(t, fmt.Sprintf("PLAYERLIST 0 %d", sess1.clientID), conn1.lastLine())
}

func TestCreateRejectsBadParameters(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := hello(s, "1")

	for _, line := range []string{
		"CREATE players:20 stake:1000",
		"CREATE players:1 stake:1000",
		"CREATE players:2 stake:5",
		"CREATE players:2 stake:1000 timeout:1",
		"CREATE players:2 stake:1000 timeout:9999",
		"CREATE players:abc stake:1000",
	} {
		s.handleLine(sess, line)
		assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrParameters)),
			"%s: %s", line, conn.lastLine())
	}

	assert.Empty(t, s.games, "no game is created on a rejected CREATE")
	assert.Equal(t, int32(0), s.nextGameID)
}

func TestRejectedConnectionCannotClaimIdentity(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.MaxConnectionsPerIP = 1

	// a disconnected client leaves its identity behind in the archive
	sess, _ := connect(s, "10.0.0.1")
	s.handleLine(sess, fmt.Sprintf("PCLIENT %d mytoken", clientVersion()))
	s.handleLine(sess, "INFO name:Alice")
	oldID := sess.clientID
	s.handleEvent(event{kind: evDisconnect, sess: sess})
	require.Contains(t, s.archive, "mytoken")

	// fill the per-ip budget, then pipeline a hello behind the rejection
	connect(s, "10.0.0.2")
	rejected := &fakeConn{ip: "10.0.0.2"}
	ghost := newSession(rejected)
	s.handleEvent(event{kind: evConnect, sess: ghost})
	require.True(t, rejected.isClosed())
	s.handleEvent(event{kind: evLine, sess: ghost, line: fmt.Sprintf("PCLIENT %d mytoken", clientVersion())})

	assert.Contains(t, s.archive, "mytoken", "rejected connection must not consume the archive entry")
	assert.False(t, ghost.has(stateIntroduced))

	// the real owner still reclaims its identity
	back, conn := connect(s, "10.0.0.1")
	s.handleLine(back, fmt.Sprintf("PCLIENT %d mytoken", clientVersion()))
	assert.Equal(t, oldID, back.clientID)
	assert.Equal(t, fmt.Sprintf("OK %d mytoken", oldID), conn.lastLine())
	assert.Equal(t, "Alice", back.name)
}

func TestCreatePermission(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.PermCreateUser = false
	s.cfg.AuthPassword = "sekrit"

	sess, conn := hello(s, "1")

	s.handleLine(sess, "CREATE players:2 stake:1000")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrNoPermission)), conn.lastLine())

	s.handleLine(sess, "AUTH wrong")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrNoPermission)), conn.lastLine())

	s.handleLine(sess, "AUTH sekrit")
	assert.Equal(t, "OK", conn.lastLine())

	s.handleLine(sess, "CREATE players:2 stake:1000")
	assert.Equal(t, "OK 0", conn.lastLine())
}

func TestRequests(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := hello(s, "1")

	s.handleLine(sess, "CREATE name:alpha players:2 stake:1000")
	s.handleLine(sess, "CREATE name:beta players:2 stake:1000")

	s.handleLine(sess, "REQUEST gamelist")
	lines := conn.Lines()
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "GAMELIST 0 1", lines[len(lines)-2])
	assert.Equal(t, "OK", lines[len(lines)-1])

	s.handleLine(sess, "REQUEST playerlist 0")
	lines = conn.Lines()
	assert.Equal(t, fmt.Sprintf("PLAYERLIST 0 %d", sess.clientID), lines[len(lines)-2])

	s.handleLine(sess, "REQUEST gameinfo 0")
	lines = conn.Lines()
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "GAMEINFO 0 "), lines[len(lines)-2])
	assert.Contains(t, lines[len(lines)-2], "\"alpha\"")

	s.handleLine(sess, fmt.Sprintf("REQUEST clientinfo %d", sess.clientID))
	lines = conn.Lines()
	assert.Equal(t, fmt.Sprintf("CLIENTINFO %d name:\"1\"", sess.clientID), lines[len(lines)-2])

	s.handleLine(sess, "REQUEST serverinfo")
	lines = conn.Lines()
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "SERVERINFO clients:1 games:2 "), lines[len(lines)-2])

	s.handleLine(sess, "REQUEST moonphase")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrNotImplemented)), conn.lastLine())
}

func TestGameChatMembersOnly(t *testing.T) {
	s, _ := newTestServer(t)
	sess1, _ := hello(s, "1")
	sess2, conn2 := hello(s, "2")
	sess3, conn3 := hello(s, "3")

	s.handleLine(sess1, "CREATE players:3 stake:1000")
	s.handleLine(sess2, "REGISTER 0")

	s.handleLine(sess1, "CHAT 0:-1 good luck")

	expected := fmt.Sprintf("MSG 0:-1:%d \"1\" good luck", sess1.clientID)
	assert.Contains(t, conn2.Lines(), expected)
	assert.NotContains(t, conn3.Lines(), expected)

	s.handleLine(sess3, "CHAT 0:-1 let me in")
	assert.True(t, strings.HasPrefix(conn3.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrNoPermission)), conn3.lastLine())
}

func TestPrivateChat(t *testing.T) {
	s, _ := newTestServer(t)
	sess1, _ := hello(s, "1")
	sess2, conn2 := hello(s, "2")
	_, conn3 := hello(s, "3")

	s.handleLine(sess1, fmt.Sprintf("CHAT %d psst", sess2.clientID))

	expected := fmt.Sprintf("MSG %d \"1\" psst", sess1.clientID)
	assert.Contains(t, conn2.Lines(), expected)
	assert.NotContains(t, conn3.Lines(), expected)

	s.handleLine(sess1, "CHAT 9999 anyone there")
	sess1Conn := sess1.conn.(*fakeConn)
	assert.True(t, strings.HasPrefix(sess1Conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrParameters)), sess1Conn.lastLine())
}

func TestActionCommand(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := hello(s, "1")

	s.handleLine(sess, "CREATE players:2 stake:1000")

	s.handleLine(sess, "ACTION 0 raise 40")
	assert.Equal(t, "OK", conn.lastLine())

	s.handleLine(sess, "ACTION 0 splash")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrParameters)), conn.lastLine())

	s.handleLine(sess, "ACTION 99 fold")
	assert.True(t, strings.HasPrefix(conn.lastLine(), fmt.Sprintf("ERR %d ", protocol.ErrParameters)), conn.lastLine())
}

func TestQuit(t *testing.T) {
	s, _ := newTestServer(t)
	sess, conn := hello(s, "1")

	s.handleLine(sess, "QUIT")
	assert.Equal(t, "OK", conn.lastLine())
	assert.True(t, conn.isClosed())
}
