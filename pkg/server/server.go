// Package server implements the card room: session handling, the text
// protocol, the game registry and the reconnect archive. A single goroutine
// owns all state; transports feed it through an event channel.
package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/decred/slog"

	"github.com/lxq2537664558/holdingnuts/pkg/config"
	"github.com/lxq2537664558/holdingnuts/pkg/poker"
	"github.com/lxq2537664558/holdingnuts/pkg/protocol"
)

type eventKind int

const (
	evConnect eventKind = iota
	evLine
	evDisconnect
)

type event struct {
	kind eventKind
	sess *Session
	line string
}

// Server is the card room. All session, game and archive state is mutated
// only by the Run goroutine; the exported counters are safe to read from
// anywhere.
type Server struct {
	cfg *config.Config
	db  Database
	log slog.Logger

	events chan event

	conns   map[*Session]struct{}
	byID    map[int32]*Session
	games   map[int32]*poker.GameController
	archive map[string]*ArchiveEntry

	nextClientID int32
	nextGameID   int32

	startTime time.Time

	numClients atomic.Int32
	numGames   atomic.Int32
}

// NewServer builds a server around the given config and archive store. The
// archive is loaded immediately so reconnect tokens survive restarts.
func NewServer(cfg *config.Config, db Database, log slog.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		db:        db,
		log:       log,
		events:    make(chan event, 256),
		conns:     make(map[*Session]struct{}),
		byID:      make(map[int32]*Session),
		games:     make(map[int32]*poker.GameController),
		archive:   make(map[string]*ArchiveEntry),
		startTime: time.Now(),
	}

	entries, err := db.LoadArchive()
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	for i := range entries {
		e := entries[i]
		s.archive[e.Token] = &e
		if e.ClientID >= s.nextClientID {
			s.nextClientID = e.ClientID + 1
		}
	}
	if len(entries) > 0 {
		log.Infof("loaded %d archived client identities", len(entries))
	}

	return s, nil
}

// ClientCount returns the number of live connections.
func (s *Server) ClientCount() int { return int(s.numClients.Load()) }

// GameCount returns the number of games, waiting or running.
func (s *Server) GameCount() int { return int(s.numGames.Load()) }

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// Run is the main loop. Every tick it first drains all pending client input,
// then advances every game one step, then expires stale archive entries.
// Input is therefore always applied before tables move, in arrival order.
func (s *Server) Run(ctx context.Context) error {
	s.log.Infof("server loop running, tick interval %s", s.cfg.TickInterval)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-ticker.C:
			s.drainEvents()
			s.tickGames()
			s.expireArchive(time.Now())
		}
	}
}

func (s *Server) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		default:
			return
		}
	}
}

func (s *Server) handleEvent(ev event) {
	switch ev.kind {
	case evConnect:
		s.handleConnect(ev.sess)
	case evLine:
		// a connection rejected at admission is never in conns; lines
		// pipelined behind the rejection must not touch the registries
		if _, ok := s.conns[ev.sess]; !ok {
			return
		}
		s.handleLine(ev.sess, ev.line)
	case evDisconnect:
		s.handleDisconnect(ev.sess)
	}
}

func (s *Server) handleConnect(sess *Session) {
	if len(s.conns) >= s.cfg.MaxClients {
		s.log.Warnf("rejecting connection from %s: server full", sess.conn.RemoteIP())
		_ = sess.conn.WriteLine(errLine(protocol.ErrServerFull, "server full"))
		_ = sess.conn.Close()
		return
	}

	perIP := 0
	for c := range s.conns {
		if c.conn.RemoteIP() == sess.conn.RemoteIP() {
			perIP++
		}
	}
	if perIP >= s.cfg.MaxConnectionsPerIP {
		s.log.Warnf("rejecting connection from %s: per-ip limit", sess.conn.RemoteIP())
		_ = sess.conn.WriteLine(errLine(protocol.ErrMaxConnectionsPerIP, "too many connections from your address"))
		_ = sess.conn.Close()
		return
	}

	sess.clientID = s.nextClientID
	s.nextClientID++

	s.conns[sess] = struct{}{}
	s.byID[sess.clientID] = sess
	s.numClients.Store(int32(len(s.conns)))

	s.log.Debugf("client %d connected from %s", sess.clientID, sess.conn.RemoteIP())

	version := protocol.MakeVersion(protocol.VersionMajor, protocol.VersionMinor, protocol.VersionRevision)
	s.send(sess, fmt.Sprintf("PSERVER %d %d %d", version, sess.clientID, time.Now().Unix()))
}

func (s *Server) handleDisconnect(sess *Session) {
	if _, ok := s.conns[sess]; !ok {
		return
	}
	delete(s.conns, sess)
	if s.byID[sess.clientID] == sess {
		delete(s.byID, sess.clientID)
	}
	s.numClients.Store(int32(len(s.conns)))

	_ = sess.conn.Close()

	// seats in games that have not started yet are given back; a started
	// game keeps the seat so the player can reconnect into the hand
	for _, g := range s.games {
		if !g.Started() && g.IsPlayer(sess.clientID) {
			if err := g.RemovePlayer(sess.clientID); err == nil {
				s.pushPlayerList(g)
			}
		}
	}

	// an introduced client with a token may come back for its identity
	if sess.has(stateIntroduced) && sess.token != "" {
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
		s.log.Debugf("client %d archived under token %s", e.ClientID, e.Token)
	} else {
		s.log.Debugf("client %d disconnected", sess.clientID)
	}
}

func (s *Server) tickGames() {
	for gid, g := range s.games {
		if g.Tick() {
			continue
		}

		delete(s.games, gid)
		s.log.Infof("game %d finished", gid)

		if g.Restart() {
			ngid := s.nextGameID
			ng, err := poker.NewGameController(ngid, g.Config(), s, s.log)
			if err != nil {
				s.log.Errorf("failed to restart game %d: %v", gid, err)
				continue
			}
			s.nextGameID++
			s.games[ngid] = ng
			s.log.Infof("game %d restarted as game %d", gid, ngid)
		}
	}
	s.numGames.Store(int32(len(s.games)))
}

func (s *Server) expireArchive(now time.Time) {
	for token, e := range s.archive {
		if now.Sub(e.LogoutTime) < s.cfg.ConnArchiveExpire {
			continue
		}
		// entries bound to a live connection never expire
		if holder, ok := s.byID[e.ClientID]; ok && holder.token == token {
			continue
		}
		delete(s.archive, token)
		if err := s.db.DeleteArchiveEntry(token); err != nil {
			s.log.Errorf("failed to delete archive entry: %v", err)
		}
		s.log.Debugf("archived identity of client %d expired", e.ClientID)
	}
}

func (s *Server) shutdown() {
	for sess := range s.conns {
		_ = sess.conn.Close()
	}
	s.log.Infof("server loop stopped")
}

// enqueue hands a transport event to the run loop.
func (s *Server) enqueue(ev event) {
	s.events <- ev
}

func (s *Server) send(sess *Session, line string) {
	if err := sess.conn.WriteLine(line); err != nil {
		s.log.Debugf("write to client %d failed: %v", sess.clientID, err)
	}
}

// broadcast sends a push line to every introduced client.
func (s *Server) broadcast(line string) {
	for sess := range s.conns {
		if sess.has(stateIntroduced) {
			s.send(sess, line)
		}
	}
}

func errLine(code int, format string, args ...interface{}) string {
	return fmt.Sprintf("ERR %d %s", code, fmt.Sprintf(format, args...))
}

// ChatToPlayer delivers a game or table chat line to one client. It
// implements poker.Notifier.
func (s *Server) ChatToPlayer(gameID, tableID, clientID int32, text string) {
	sess, ok := s.byID[clientID]
	if !ok {
		return
	}
	if tableID < 0 {
		s.send(sess, fmt.Sprintf("MSG %d \"game\" %s", gameID, text))
		return
	}
	s.send(sess, fmt.Sprintf("MSG %d:%d \"table\" %s", gameID, tableID, text))
}

// SnapToPlayer delivers a snapshot to one client. It implements
// poker.Notifier.
func (s *Server) SnapToPlayer(gameID, tableID, clientID int32, snapID int, payload string) {
	sess, ok := s.byID[clientID]
	if !ok {
		return
	}
	s.send(sess, fmt.Sprintf("SNAP %d:%d %d %s", gameID, tableID, snapID, payload))
}
