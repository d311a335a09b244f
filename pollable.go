package nbpoll

import (
	"fmt"

	"github.com/rocinan/nbpoll/poller"
)

const noDeadline = -1.0

// Handler receives the events of a Pollable.
type Handler interface {
	HandleRead(p *Pollable)
	HandleWrite(p *Pollable)
	HandleClose(p *Pollable)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields do nothing.
type HandlerFuncs struct {
	OnRead  func(p *Pollable)
	OnWrite func(p *Pollable)
	OnClose func(p *Pollable)
}

func (h HandlerFuncs) HandleRead(p *Pollable) {
	if h.OnRead != nil {
		h.OnRead(p)
	}
}

func (h HandlerFuncs) HandleWrite(p *Pollable) {
	if h.OnWrite != nil {
		h.OnWrite(p)
	}
}

func (h HandlerFuncs) HandleClose(p *Pollable) {
	if h.OnClose != nil {
		h.OnClose(p)
	}
}

// Pollable watches one descriptor on behalf of a Handler. It does not own
// the descriptor: closing a Pollable never closes its descriptor.
type Pollable struct {
	reactor  *Reactor
	handler  Handler
	ctx      any
	fd       int
	id       uint64
	deadline float64
	interest poller.Event
	closed   bool
}

// NewPollable returns a detached, unsupervised pollable. ctx is returned
// unchanged by Context.
func NewPollable(r *Reactor, h Handler, ctx any) *Pollable {
	if h == nil {
		h = HandlerFuncs{}
	}
	return &Pollable{
		reactor:  r,
		handler:  h,
		ctx:      ctx,
		fd:       -1,
		deadline: noDeadline,
	}
}

// Attach binds p to fd with read and write interest both disabled.
func (p *Pollable) Attach(fd int) error {
	if p.closed || p.reactor.closed {
		return ErrClosed
	}
	if p.fd != -1 {
		return ErrAlreadyAttached
	}
	if fd < 0 {
		return ErrInvalidArgument
	}
	if err := p.reactor.loop.Register(fd, p); err != nil {
		return fmt.Errorf("attach fd %d: %w", fd, err)
	}
	p.fd = fd
	p.id = p.reactor.registry.add(p)
	p.reactor.metrics.Attached.Inc()
	return nil
}

// Detach disables both interests and forgets the descriptor. Detaching a
// detached pollable does nothing.
func (p *Pollable) Detach() error {
	if p.fd == -1 {
		return nil
	}
	fd := p.fd
	err := p.reactor.loop.UnRegister(fd)
	p.reactor.registry.remove(p.id)
	p.reactor.metrics.Attached.Dec()
	p.fd, p.id, p.interest = -1, 0, poller.PollNull
	if err != nil {
		p.reactor.logger.WithField("fd", fd).Debugf("detach: %v", err)
		return fmt.Errorf("detach fd %d: %w", fd, err)
	}
	return nil
}

// Close detaches p and calls its close handler. A closed pollable cannot be
// attached again; closing it twice calls the handler once.
func (p *Pollable) Close() error {
	if p.closed {
		return nil
	}
	err := p.Detach()
	p.closed = true
	p.handler.HandleClose(p)
	return err
}

func (p *Pollable) SetReadable() error {
	return p.modify(p.interest | poller.PollIn)
}

func (p *Pollable) UnsetReadable() error {
	return p.modify(p.interest &^ poller.PollIn)
}

func (p *Pollable) SetWritable() error {
	return p.modify(p.interest | poller.PollOut)
}

func (p *Pollable) UnsetWritable() error {
	return p.modify(p.interest &^ poller.PollOut)
}

func (p *Pollable) modify(mask poller.Event) error {
	if p.fd == -1 {
		return ErrDetached
	}
	if err := p.reactor.loop.Modify(p.fd, mask); err != nil {
		return err
	}
	p.interest = mask
	return nil
}

// SetTimeout arms the watchdog to close p once it is more than seconds
// from now, replacing any previous deadline.
func (p *Pollable) SetTimeout(seconds float64) {
	p.deadline = p.reactor.loop.Now() + seconds
}

// ClearTimeout exempts p from the watchdog.
func (p *Pollable) ClearTimeout() {
	p.deadline = noDeadline
}

// Deadline returns the absolute deadline, or -1 when p is unsupervised.
func (p *Pollable) Deadline() float64 {
	return p.deadline
}

func (p *Pollable) expired(now float64) bool {
	return p.deadline != noDeadline && now > p.deadline
}

// Fileno returns the attached descriptor, or -1.
func (p *Pollable) Fileno() int {
	return p.fd
}

func (p *Pollable) Context() any {
	return p.ctx
}

func (p *Pollable) Reactor() *Reactor {
	return p.reactor
}

// HandleEvent implements poller.ISockNotify. When both directions are ready
// only the read handler runs; the write side is reported again on the next
// iteration if it is still ready.
func (p *Pollable) HandleEvent(fd int, event poller.Event) {
	if event&poller.PollIn != 0 {
		p.handler.HandleRead(p)
	} else if event&poller.PollOut != 0 {
		p.handler.HandleWrite(p)
	}
}
