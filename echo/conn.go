//go:build linux

package echo

import (
	"github.com/rocinan/nbpoll"
	"golang.org/x/sys/unix"
)

const (
	kWaitStatusReading = iota + 1
	kWaitStatusWriting
)

// conn echoes what it reads. It waits for reads while nothing is pending
// and for writes while a pending buffer is being flushed, never both.
type conn struct {
	server  *Server
	fd      int
	status  int
	p       *nbpoll.Pollable
	buf     []byte
	pending []byte
}

func newConn(s *Server, fd int) *conn {
	c := &conn{
		server: s,
		fd:     fd,
		buf:    make([]byte, s.cfg.BufferSize),
	}
	c.p = nbpoll.NewPollable(s.reactor, c, s)
	return c
}

func (c *conn) HandleRead(p *nbpoll.Pollable) {
	n, err := unix.Read(c.fd, c.buf)
	if err != nil && isTemporary(err) {
		return
	}
	if err != nil || n == 0 {
		_ = p.Close()
		return
	}
	c.pending = append(c.pending, c.buf[:n]...)
	c.touch()
	if err := c.update(kWaitStatusWriting); err != nil {
		_ = p.Close()
	}
}

func (c *conn) HandleWrite(p *nbpoll.Pollable) {
	n, err := unix.Write(c.fd, c.pending)
	if err != nil && isTemporary(err) {
		return
	}
	if err != nil {
		_ = p.Close()
		return
	}
	c.pending = c.pending[n:]
	c.touch()
	if len(c.pending) != 0 {
		return
	}
	if err := c.update(kWaitStatusReading); err != nil {
		_ = p.Close()
	}
}

func (c *conn) HandleClose(p *nbpoll.Pollable) {
	delete(c.server.conns, c)
	if err := closeSocket(c.fd); err != nil {
		c.server.logger.WithField("category", "conn").Debugf("close fd %d: %v", c.fd, err)
	}
}

// touch re-arms the idle timeout after progress.
func (c *conn) touch() {
	if c.server.cfg.IdleTimeout > 0 {
		c.p.SetTimeout(c.server.cfg.IdleTimeout)
	}
}

func (c *conn) update(status int) error {
	if c.status == status {
		return nil
	}
	var err error
	if status == kWaitStatusReading {
		if err = c.p.UnsetWritable(); err == nil {
			err = c.p.SetReadable()
		}
	} else {
		if err = c.p.UnsetReadable(); err == nil {
			err = c.p.SetWritable()
		}
	}
	if err != nil {
		return err
	}
	c.status = status
	return nil
}
