package nbpoll

import (
	"errors"
	"fmt"

	"github.com/rocinan/nbpoll/poller"
)

var (
	// ErrInvalidState is wrapped by every error returned for an operation
	// that does not fit the current lifecycle state.
	ErrInvalidState    = errors.New("nbpoll: invalid state")
	ErrAlreadyAttached = fmt.Errorf("%w: already attached", ErrInvalidState)
	ErrDetached        = fmt.Errorf("%w: not attached", ErrInvalidState)
	ErrClosed          = fmt.Errorf("%w: closed", ErrInvalidState)

	ErrInvalidArgument   = poller.ErrInvalidArgument
	ErrResourceExhausted = poller.ErrResourceExhausted
	ErrRunning           = poller.ErrRunning
)
