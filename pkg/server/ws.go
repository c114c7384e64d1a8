package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to the line protocol: one text
// message per line in each direction.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.c.WriteMessage(websocket.TextMessage, []byte(line))
}

func (w *wsConn) RemoteIP() string {
	addr := w.c.RemoteAddr().String()
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}

func (w *wsConn) Close() error { return w.c.Close() }

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  maxSessionBuffer,
	WriteBufferSize: maxSessionBuffer,
	// the poker protocol carries its own handshake; any origin may connect
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades an HTTP request and speaks the same protocol as the TCP
// transport over it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	conn := &wsConn{c: c}
	sess := newSession(conn)
	s.enqueue(event{kind: evConnect, sess: sess})

	go func() {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				s.enqueue(event{kind: evDisconnect, sess: sess})
				return
			}
			for _, line := range strings.Split(string(data), "\n") {
				if line = strings.TrimRight(line, "\r"); line != "" {
					s.enqueue(event{kind: evLine, sess: sess, line: line})
				}
			}
		}
	}()
}
