//go:build linux

// Package echo is a TCP echo service built on the reactor. Every
// connection is supervised by the watchdog and closed once idle.
package echo

import (
	"github.com/rocinan/nbpoll"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type Server struct {
	cfg      Config
	port     int
	reactor  *nbpoll.Reactor
	listener *nbpoll.Pollable
	conns    map[*conn]struct{}
	logger   logrus.FieldLogger
}

// NewServer listens on cfg.ListenAddr:cfg.ListenPort and starts accepting
// once r runs.
func NewServer(r *nbpoll.Reactor, cfg Config, logger logrus.FieldLogger) (*Server, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = nbpoll.Logger()
	}
	fd, err := listenTCP(cfg.ListenAddr, cfg.ListenPort, cfg.Backlog)
	if err != nil {
		return nil, err
	}
	port, err := localPort(fd)
	if err != nil {
		_ = closeSocket(fd)
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		port:    port,
		reactor: r,
		conns:   make(map[*conn]struct{}),
		logger:  logger.WithField("component", "echo"),
	}
	s.listener = nbpoll.NewPollable(r, nbpoll.HandlerFuncs{
		OnRead:  s.onAccept,
		OnClose: func(p *nbpoll.Pollable) { _ = closeSocket(fd) },
	}, s)
	if err := s.listener.Attach(fd); err != nil {
		_ = closeSocket(fd)
		return nil, err
	}
	if err := s.listener.SetReadable(); err != nil {
		_ = s.listener.Close()
		return nil, err
	}
	s.logger.Infof("listening on %s:%d", cfg.ListenAddr, port)
	return s, nil
}

// Port returns the bound port, useful when listening on port 0.
func (s *Server) Port() int {
	return s.port
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	return len(s.conns)
}

// Close stops accepting and closes every connection.
func (s *Server) Close() error {
	err := s.listener.Close()
	for c := range s.conns {
		_ = c.p.Close()
	}
	s.logger.Info("echo server exit.")
	return err
}

func (s *Server) onAccept(p *nbpoll.Pollable) {
	for {
		fd, err := acceptTCPConn(p.Fileno())
		if err != nil {
			if isTemporary(err) || err == unix.ECONNABORTED {
				return
			}
			s.logger.WithField("category", "accept").Warnf("accept: %v", err)
			return
		}
		if err := s.serve(fd); err != nil {
			s.logger.WithField("category", "accept").Warnf("serve fd %d: %v", fd, err)
			_ = closeSocket(fd)
		}
	}
}

func (s *Server) serve(fd int) error {
	c := newConn(s, fd)
	if err := c.p.Attach(fd); err != nil {
		return err
	}
	s.conns[c] = struct{}{}
	c.touch()
	if err := c.update(kWaitStatusReading); err != nil {
		_ = c.p.Close()
		return err
	}
	return nil
}
