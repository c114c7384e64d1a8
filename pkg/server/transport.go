package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// maxSessionBuffer bounds the unterminated input a single connection may
// accumulate. Overflowing input is discarded, not fatal; a client sending
// garbage only loses its own partial line.
const maxSessionBuffer = 16 * 1024

const writeTimeout = 10 * time.Second

type tcpConn struct {
	mu sync.Mutex
	c  net.Conn
}

func (t *tcpConn) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := t.c.Write(append([]byte(line), '\n'))
	return err
}

func (t *tcpConn) RemoteIP() string {
	host, _, err := net.SplitHostPort(t.c.RemoteAddr().String())
	if err != nil {
		return t.c.RemoteAddr().String()
	}
	return host
}

func (t *tcpConn) Close() error { return t.c.Close() }

// ServeTCP accepts client connections until the listener is closed.
func (s *Server) ServeTCP(l net.Listener) error {
	s.log.Infof("listening for clients on %s", l.Addr())
	for {
		c, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(&tcpConn{c: c}, c)
	}
}

// serveConn registers the connection and pumps its input into the event
// channel, one line at a time.
func (s *Server) serveConn(conn Conn, r io.Reader) {
	sess := newSession(conn)
	s.enqueue(event{kind: evConnect, sess: sess})

	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				line := string(buf[:i])
				buf = append(buf[:0], buf[i+1:]...)
				s.enqueue(event{kind: evLine, sess: sess, line: line})
			}
			if len(buf) > maxSessionBuffer {
				s.log.Warnf("discarding %d bytes of unterminated input from %s",
					len(buf), conn.RemoteIP())
				buf = buf[:0]
			}
		}
		if err != nil {
			s.enqueue(event{kind: evDisconnect, sess: sess})
			return
		}
	}
}
