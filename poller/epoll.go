//go:build linux

package poller

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/eapache/queue"
	"github.com/rocinan/nbpoll/clock"
	"golang.org/x/sys/unix"
)

type sock struct {
	fd     int
	mask   Event
	notify ISockNotify
}

// EventLoop is not safe for concurrent use: every method must be called
// from the goroutine running Run, or before Run starts.
type EventLoop struct {
	fd        int
	isStop    bool
	running   bool
	closed    bool
	handler   map[int]*sock
	events    []unix.EpollEvent
	ready     []*sock
	timers    timerHeap
	due       *queue.Queue
	seq       uint64
	maxTimers int
	reserved  int // slots claimed by Reserve
	unbound   int // pending timers not on a reserved slot
	clock     clock.Clock
}

func Create(cfg Config) (*EventLoop, error) {
	cfg = cfg.withDefaults()
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &EventLoop{
		fd:        fd,
		handler:   make(map[int]*sock, kEpollSize),
		events:    make([]unix.EpollEvent, cfg.MaxEvents),
		ready:     make([]*sock, 0, cfg.MaxEvents),
		due:       queue.New(),
		maxTimers: cfg.MaxTimers,
		clock:     cfg.Clock,
	}, nil
}

// Now reads the loop's clock.
func (e *EventLoop) Now() float64 {
	return e.clock.Now()
}

// Register binds fd to obj with no interest enabled. The descriptor is only
// handed to epoll once Modify enables a direction, so a registered but idle
// descriptor never reports error or hang-up conditions.
func (e *EventLoop) Register(fd int, obj ISockNotify) error {
	if e.closed {
		return ErrClosed
	}
	if fd < 0 || obj == nil {
		return ErrInvalidArgument
	}
	if _, ok := e.handler[fd]; ok {
		return ErrExists
	}
	e.handler[fd] = &sock{fd: fd, notify: obj}
	return nil
}

// Modify replaces the interest set of fd. Interest persists across
// notifications until it is modified again.
func (e *EventLoop) Modify(fd int, mask Event) error {
	s, ok := e.handler[fd]
	if !ok {
		return ErrNotFound
	}
	mask &= PollIn | PollOut
	if mask == s.mask {
		return nil
	}
	var err error
	switch {
	case s.mask == PollNull:
		err = unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, epollEvent(fd, mask))
	case mask == PollNull:
		err = unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	default:
		err = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, epollEvent(fd, mask))
	}
	if err != nil {
		return fmt.Errorf("epoll ctl fd %d: %w", fd, err)
	}
	s.mask = mask
	return nil
}

// UnRegister forgets fd. Events for fd still pending in the current batch
// are not delivered.
func (e *EventLoop) UnRegister(fd int) error {
	s, ok := e.handler[fd]
	if !ok {
		return ErrNotFound
	}
	delete(e.handler, fd)
	if s.mask == PollNull {
		return nil
	}
	s.mask = PollNull
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Once arranges for fn to run a single time once the clock passes at. The
// loop drops its reference to fn right before running it.
func (e *EventLoop) Once(at float64, fn func()) error {
	if e.closed {
		return ErrClosed
	}
	if fn == nil || math.IsNaN(at) {
		return ErrInvalidArgument
	}
	if e.maxTimers > 0 && e.unbound+e.reserved >= e.maxTimers {
		return ErrResourceExhausted
	}
	e.unbound++
	e.push(at, fn, false)
	return nil
}

// Reserve sets aside one timer slot for the lifetime of the loop. Once never
// uses a reserved slot, so a caller holding one can always re-arm through
// OnceReserved no matter how many other timers are pending.
func (e *EventLoop) Reserve() error {
	if e.closed {
		return ErrClosed
	}
	if e.maxTimers > 0 && e.unbound+e.reserved >= e.maxTimers {
		return ErrResourceExhausted
	}
	e.reserved++
	return nil
}

// OnceReserved is Once on a slot claimed by Reserve. It is the caller's job
// to keep at most one timer pending per reservation.
func (e *EventLoop) OnceReserved(at float64, fn func()) error {
	if e.closed {
		return ErrClosed
	}
	if fn == nil || math.IsNaN(at) || e.reserved == 0 {
		return ErrInvalidArgument
	}
	e.push(at, fn, true)
	return nil
}

func (e *EventLoop) push(at float64, fn func(), reserved bool) {
	e.seq++
	heap.Push(&e.timers, &timer{at: at, seq: e.seq, fn: fn, reserved: reserved})
}

// Pending reports how many timers have not fired yet.
func (e *EventLoop) Pending() int {
	return len(e.timers) + e.due.Length()
}

// Run dispatches readiness and timers until Stop or Close is called. A Stop
// issued before Run is forgotten.
func (e *EventLoop) Run() error {
	if e.closed {
		return ErrClosed
	}
	if e.running {
		return ErrRunning
	}
	e.running, e.isStop = true, false
	defer func() { e.running = false }()
	for !e.isStop {
		if err := e.poll(e.timeout()); err != nil {
			return err
		}
		if e.isStop {
			break
		}
		e.fireTimers()
	}
	return nil
}

// Stop makes Run return once the running callback completes.
func (e *EventLoop) Stop() {
	e.isStop = true
}

// Close releases the epoll descriptor. Pending timers are dropped unfired
// and registrations are forgotten; the descriptors themselves are left
// untouched.
func (e *EventLoop) Close() error {
	if e.closed {
		return nil
	}
	e.closed, e.isStop = true, true
	e.handler = make(map[int]*sock)
	e.timers = nil
	e.due = queue.New()
	e.unbound, e.reserved = 0, 0
	if err := unix.Close(e.fd); err != nil {
		return fmt.Errorf("close epoll: %w", err)
	}
	return nil
}

func (e *EventLoop) timeout() int {
	if e.due.Length() > 0 {
		return 0
	}
	if len(e.timers) == 0 {
		return -1
	}
	d := (e.timers[0].at - e.clock.Now()) * 1000
	if d <= 0 {
		return 0
	}
	if d > kMaxWaitMsec {
		return kMaxWaitMsec
	}
	return int(math.Ceil(d))
}

func (e *EventLoop) poll(msec int) error {
	nfds, err := unix.EpollWait(e.fd, e.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epoll wait: %w", err)
	}
	// Resolve owners up front: a callback may unregister, or unregister and
	// re-register, a descriptor that is later in this batch.
	e.ready = e.ready[:0]
	for i := 0; i < nfds; i++ {
		e.ready = append(e.ready, e.handler[int(e.events[i].Fd)])
	}
	for i, s := range e.ready {
		if e.isStop {
			break
		}
		if s == nil || e.handler[s.fd] != s {
			continue
		}
		if ev := s.mask & readiness(e.events[i].Events); ev != PollNull {
			s.notify.HandleEvent(s.fd, ev)
		}
	}
	for i := range e.ready {
		e.ready[i] = nil
	}
	return nil
}

func (e *EventLoop) fireTimers() {
	now := e.clock.Now()
	for len(e.timers) > 0 && e.timers[0].at <= now {
		e.due.Add(heap.Pop(&e.timers))
	}
	// Timers added by these callbacks wait for the next iteration.
	for e.due.Length() > 0 && !e.isStop {
		t := e.due.Remove().(*timer)
		if !t.reserved {
			e.unbound--
		}
		t.fn()
	}
}

func epollEvent(fd int, mask Event) *unix.EpollEvent {
	var events uint32
	if mask&PollIn != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask&PollOut != 0 {
		events |= unix.EPOLLOUT
	}
	return &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}
}

// readiness maps epoll flags to directions. Error and hang-up wake every
// direction so that the owner notices them on its next read or write.
func readiness(events uint32) Event {
	var ev Event
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
		ev |= PollIn
	}
	if events&unix.EPOLLOUT != 0 {
		ev |= PollOut
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ev |= PollIn | PollOut
	}
	return ev
}
