package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lxq2537664558/holdingnuts/pkg/poker"
	"github.com/lxq2537664558/holdingnuts/pkg/protocol"
)

// handleLine parses and dispatches one protocol line. An optional leading
// numeric message id is echoed back in front of the OK/ERR response so
// clients can match replies to requests.
func (s *Server) handleLine(sess *Session, line string) {
	sess.lastActivity = time.Now()

	line = strings.TrimRight(line, "\r")
	tok := protocol.NewTokenizer(" ")
	tok.Parse(line)
	if tok.Count() == 0 {
		return
	}

	cmd := tok.Next()
	msgid := ""
	if isNumeric(cmd) && tok.HasNext() {
		msgid = cmd
		cmd = tok.Next()
	}

	reply := func(response string) {
		if msgid != "" {
			response = msgid + " " + response
		}
		s.send(sess, response)
	}

	// anything but the handshake before the handshake is fatal
	if !sess.has(stateIntroduced) && cmd != "PCLIENT" {
		reply(errLine(protocol.ErrProtocol, "introduce yourself first"))
		_ = sess.conn.Close()
		return
	}

	switch cmd {
	case "PCLIENT":
		reply(s.cmdPClient(sess, tok))
		// an incompatible client gets the error before the disconnect
		if sess.version != 0 && !protocol.Compatible(sess.version) {
			_ = sess.conn.Close()
		}
	case "INFO":
		reply(s.cmdInfo(sess, tok))
	case "CHAT":
		reply(s.cmdChat(sess, tok))
	case "REQUEST":
		reply(s.cmdRequest(sess, tok))
	case "REGISTER":
		reply(s.cmdRegister(sess, tok))
	case "UNREGISTER":
		reply(s.cmdUnregister(sess, tok))
	case "ACTION":
		reply(s.cmdAction(sess, tok))
	case "CREATE":
		reply(s.cmdCreate(sess, tok))
	case "AUTH":
		reply(s.cmdAuth(sess, tok))
	case "QUIT":
		reply("OK")
		_ = sess.conn.Close()
	default:
		reply(errLine(protocol.ErrNotImplemented, "unknown command"))
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// cmdPClient handles the client hello: version negotiation and identity.
// A known token reclaims the archived client id; an unknown token becomes
// the client's identity; no token at all gets a server-issued one. A token
// already in use by a live connection is silently dropped so two clients
// never share an identity.
func (s *Server) cmdPClient(sess *Session, tok *protocol.Tokenizer) string {
	if sess.has(stateIntroduced) {
		return errLine(protocol.ErrProtocol, "already introduced")
	}
	if !tok.HasNext() {
		return errLine(protocol.ErrParameters, "missing version")
	}

	version := tok.NextInt()
	sess.version = version
	if !protocol.Compatible(version) {
		return errLine(protocol.ErrWrongVersion, "incompatible protocol version")
	}

	token := ""
	if tok.HasNext() {
		token = tok.Next()
	}

	switch {
	case token == "":
		sess.token = uuid.NewString()
	case s.liveToken(token) != nil:
		sess.token = ""
	default:
		sess.token = token
		if e, ok := s.archive[token]; ok {
			// welcome back; the old identity replaces the fresh one
			delete(s.byID, sess.clientID)
			sess.clientID = e.ClientID
			sess.name = e.Name
			s.byID[sess.clientID] = sess

			delete(s.archive, token)
			if err := s.db.DeleteArchiveEntry(token); err != nil {
				s.log.Errorf("failed to delete archive entry: %v", err)
			}
			s.log.Debugf("client %d reconnected", sess.clientID)
		}
	}

	sess.state |= stateIntroduced

	if sess.token == "" {
		return fmt.Sprintf("OK %d", sess.clientID)
	}
	return fmt.Sprintf("OK %d %s", sess.clientID, sess.token)
}

func (s *Server) liveToken(token string) *Session {
	for c := range s.conns {
		if c.token == token && c.has(stateIntroduced) {
			return c
		}
	}
	return nil
}

func (s *Server) cmdInfo(sess *Session, tok *protocol.Tokenizer) string {
	for tok.HasNext() {
		key, value, ok := strings.Cut(tok.Next(), ":")
		if !ok {
			continue
		}
		switch key {
		case "name":
			if value != "" {
				sess.name = value
			}
		}
	}

	// the first INFO binds the token to this identity so a reconnect can
	// find it even if the server never sees a clean disconnect
	if !sess.has(stateSentInfo) && sess.token != "" {
		e := &ArchiveEntry{
			Token:      sess.token,
			ClientID:   sess.clientID,
			Name:       sess.name,
			LogoutTime: time.Now(),
		}
		s.archive[e.Token] = e
		if err := s.db.SaveArchiveEntry(*e); err != nil {
			s.log.Errorf("failed to persist archive entry for client %d: %v", e.ClientID, err)
		}
	}

	sess.state |= stateSentInfo
	s.broadcast(fmt.Sprintf("CLIENTINFO %d name:\"%s\"", sess.clientID, sess.name))
	return "OK"
}

func (s *Server) cmdChat(sess *Session, tok *protocol.Tokenizer) string {
	if !sess.has(stateSentInfo) {
		return errLine(protocol.ErrNoPermission, "set your name first")
	}
	if !tok.HasNext() {
		return errLine(protocol.ErrParameters, "missing destination")
	}

	if !sess.allowChat(time.Now(), s.cfg.FloodChatInterval, s.cfg.FloodChatPerInterval, s.cfg.FloodChatMute) {
		return errLine(protocol.ErrNoPermission, "you are muted")
	}

	dest := tok.Next()
	text := tok.TillEnd()
	if text == "" {
		return errLine(protocol.ErrParameters, "missing text")
	}

	if dest == "-1" {
		// foyer chat goes to everyone
		s.broadcast(fmt.Sprintf("MSG %d \"%s\" %s", sess.clientID, sess.name, text))
		return "OK"
	}

	gidStr, tidStr, isGame := strings.Cut(dest, ":")
	if !isGame {
		// a bare id addresses one client
		cid, err := strconv.Atoi(gidStr)
		if err != nil {
			return errLine(protocol.ErrParameters, "bad destination")
		}
		other, ok := s.byID[int32(cid)]
		if !ok || !other.has(stateIntroduced) {
			return errLine(protocol.ErrParameters, "no such client")
		}
		s.send(other, fmt.Sprintf("MSG %d \"%s\" %s", sess.clientID, sess.name, text))
		return "OK"
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return errLine(protocol.ErrParameters, "bad destination")
	}
	tid, err := strconv.Atoi(tidStr)
	if err != nil {
		return errLine(protocol.ErrParameters, "bad destination")
	}

	g, ok := s.games[int32(gid)]
	if !ok || !g.IsPlayer(sess.clientID) {
		return errLine(protocol.ErrNoPermission, "not in that game")
	}

	line := fmt.Sprintf("MSG %d:%d:%d \"%s\" %s", gid, tid, sess.clientID, sess.name, text)
	for _, cid := range g.PlayerIDs() {
		if other, ok := s.byID[cid]; ok {
			s.send(other, line)
		}
	}
	return "OK"
}

func (s *Server) cmdRequest(sess *Session, tok *protocol.Tokenizer) string {
	if !tok.HasNext() {
		return errLine(protocol.ErrParameters, "missing request type")
	}

	switch tok.Next() {
	case "gamelist":
		gids := make([]int, 0, len(s.games))
		for gid := range s.games {
			gids = append(gids, int(gid))
		}
		sort.Ints(gids)

		var sb strings.Builder
		sb.WriteString("GAMELIST")
		for _, gid := range gids {
			fmt.Fprintf(&sb, " %d", gid)
		}
		s.send(sess, sb.String())

	case "playerlist":
		g, errResp := s.gameArg(tok)
		if errResp != "" {
			return errResp
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "PLAYERLIST %d", g.GameID())
		for _, cid := range g.PlayerIDs() {
			fmt.Fprintf(&sb, " %d", cid)
		}
		s.send(sess, sb.String())

	case "gameinfo":
		g, errResp := s.gameArg(tok)
		if errResp != "" {
			return errResp
		}
		state := protocol.GameStateWaiting
		switch {
		case g.Ended():
			state = protocol.GameStateEnded
		case g.Started():
			state = protocol.GameStateStarted
		}
		s.send(sess, fmt.Sprintf("GAMEINFO %d %d:%d:%d %d:%d %d \"%s\"",
			g.GameID(), protocol.GameTypeHoldem, protocol.GameModeSNG, state,
			g.MaxPlayers(), g.PlayerCount(), g.Stake(), g.Name()))

	case "serverinfo":
		s.send(sess, fmt.Sprintf("SERVERINFO clients:%d games:%d uptime:%d",
			s.ClientCount(), s.GameCount(), int64(s.Uptime().Seconds())))

	case "clientinfo":
		if !tok.HasNext() {
			return errLine(protocol.ErrParameters, "missing client id")
		}
		cid := int32(tok.NextInt())
		other, ok := s.byID[cid]
		if !ok {
			return errLine(protocol.ErrParameters, "no such client")
		}
		s.send(sess, fmt.Sprintf("CLIENTINFO %d name:\"%s\"", other.clientID, other.name))

	default:
		return errLine(protocol.ErrNotImplemented, "unknown request")
	}

	return "OK"
}

func (s *Server) gameArg(tok *protocol.Tokenizer) (*poker.GameController, string) {
	if !tok.HasNext() {
		return nil, errLine(protocol.ErrParameters, "missing game id")
	}
	g, ok := s.games[int32(tok.NextInt())]
	if !ok {
		return nil, errLine(protocol.ErrParameters, "no such game")
	}
	return g, ""
}

func (s *Server) cmdRegister(sess *Session, tok *protocol.Tokenizer) string {
	if !sess.has(stateSentInfo) {
		return errLine(protocol.ErrNoPermission, "set your name first")
	}
	g, errResp := s.gameArg(tok)
	if errResp != "" {
		return errResp
	}

	registered := 0
	for _, other := range s.games {
		if other.IsPlayer(sess.clientID) {
			registered++
		}
	}
	if registered >= s.cfg.MaxRegisterPerPlayer {
		return errLine(protocol.ErrNoPermission, "registered in too many games")
	}

	if err := g.AddPlayer(sess.clientID); err != nil {
		return errLine(protocol.ErrParameters, "%v", err)
	}

	s.pushPlayerList(g)
	return "OK"
}

func (s *Server) cmdUnregister(sess *Session, tok *protocol.Tokenizer) string {
	g, errResp := s.gameArg(tok)
	if errResp != "" {
		return errResp
	}
	if err := g.RemovePlayer(sess.clientID); err != nil {
		return errLine(protocol.ErrParameters, "%v", err)
	}

	s.pushPlayerList(g)
	return "OK"
}

// pushPlayerList tells everyone in the game who is registered now.
func (s *Server) pushPlayerList(g *poker.GameController) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PLAYERLIST %d", g.GameID())
	for _, cid := range g.PlayerIDs() {
		fmt.Fprintf(&sb, " %d", cid)
	}
	line := sb.String()
	for _, cid := range g.PlayerIDs() {
		if other, ok := s.byID[cid]; ok {
			s.send(other, line)
		}
	}
}

func (s *Server) cmdAction(sess *Session, tok *protocol.Tokenizer) string {
	g, errResp := s.gameArg(tok)
	if errResp != "" {
		return errResp
	}
	if !tok.HasNext() {
		return errLine(protocol.ErrParameters, "missing action")
	}

	action, ok := poker.ParseAction(tok.Next())
	if !ok {
		return errLine(protocol.ErrParameters, "unknown action")
	}
	var amount int64
	if tok.HasNext() {
		amount = int64(tok.NextInt())
	}

	if err := g.SetPlayerAction(sess.clientID, action, amount); err != nil {
		return errLine(protocol.ErrParameters, "%v", err)
	}
	return "OK"
}

func (s *Server) cmdCreate(sess *Session, tok *protocol.Tokenizer) string {
	if !sess.has(stateSentInfo) {
		return errLine(protocol.ErrNoPermission, "set your name first")
	}
	if !s.cfg.PermCreateUser && !sess.has(stateAuthed) {
		return errLine(protocol.ErrNoPermission, "game creation not allowed")
	}

	cfg := poker.GameConfig{
		Name:  fmt.Sprintf("%s's game", sess.name),
		Owner: sess.clientID,
	}

	for tok.HasNext() {
		key, value, ok := strings.Cut(tok.Next(), ":")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "name":
			cfg.Name = value
		case "type":
			if value != "holdem" {
				return errLine(protocol.ErrParameters, "unknown game type")
			}
		case "players":
			cfg.MaxPlayers, err = strconv.Atoi(value)
		case "stake":
			cfg.Stake, err = strconv.ParseInt(value, 10, 64)
		case "blind":
			cfg.Blind, err = strconv.ParseInt(value, 10, 64)
		case "timeout":
			var secs int
			secs, err = strconv.Atoi(value)
			cfg.Timeout = time.Duration(secs) * time.Second
		case "restart":
			cfg.Restart = value == "1"
		}
		if err != nil {
			return errLine(protocol.ErrParameters, "bad %s value", key)
		}
	}

	if len(cfg.Name) > 50 {
		return errLine(protocol.ErrParameters, "game name too long")
	}

	g, err := poker.NewGameController(s.nextGameID, cfg, s, s.log)
	if err != nil {
		return errLine(protocol.ErrParameters, "%v", err)
	}

	gid := s.nextGameID
	s.nextGameID++
	s.games[gid] = g
	s.numGames.Store(int32(len(s.games)))

	// the creator takes the first seat
	if err := g.AddPlayer(sess.clientID); err != nil {
		return errLine(protocol.ErrParameters, "%v", err)
	}
	s.pushPlayerList(g)

	s.log.Infof("client %d created game %d (%q)", sess.clientID, gid, cfg.Name)
	return fmt.Sprintf("OK %d", gid)
}

// cmdAuth grants the elevated flag. The secret is the last argument; an
// optional scope token before it is accepted and ignored.
func (s *Server) cmdAuth(sess *Session, tok *protocol.Tokenizer) string {
	secret := ""
	for tok.HasNext() {
		secret = tok.Next()
	}
	if s.cfg.AuthPassword == "" || secret == "" || secret != s.cfg.AuthPassword {
		return errLine(protocol.ErrNoPermission, "authentication failed")
	}
	sess.state |= stateAuthed
	return "OK"
}
