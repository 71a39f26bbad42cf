// Package asyncobj manages once-only activation and clean asynchronous shutdown
// of long-lived objects such as channels, listeners and routers.
//
// An object embeds a Helper and implements HandleOnceShutdowner. Anyone may call
// StartShutdown with an advisory completion error; the first call wins, the
// object's HandleOnceShutdown runs exactly once in its own goroutine, registered
// children are shut down after it, and WaitShutdown returns the final status.
package asyncobj

import (
	"context"
	"sync"

	"github.com/sammck-go/wspipe/pkg/logger"
)

// OnceActivateHandler is a function that is called exactly once with shutdown paused
// to activate the object that supports shutdown.
// If it returns nil, the object will be activated. If it returns an error, the object will not be activated,
// and shutdown will be immediately started.
type OnceActivateHandler func() error

// HandleOnceShutdowner is an interface that must be implemented by the object managed by Helper
type HandleOnceShutdowner interface {
	// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
	// as an advisory completion value, actually shut down, then return the real completion value.
	// This method will never be called while shutdown is paused.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is an interface implemented by objects that provide
// asynchronous shutdown capability.
type AsyncShutdowner interface {
	// StartShutdown schedules asynchronous shutdown of the object. If the object
	// has already been scheduled for shutdown, it has no effect.
	// completionErr is an advisory error (or nil) to use as the completion status
	// from WaitShutdown().
	StartShutdown(completionErr error)

	// ShutdownStartedChan returns a chan that is closed as soon as shutdown begins.
	ShutdownStartedChan() <-chan struct{}

	// ShutdownDoneChan returns a chan that is closed after shutdown is complete.
	ShutdownDoneChan() <-chan struct{}

	// IsDoneShutdown returns true once shutdown is completely finished.
	IsDoneShutdown() bool

	// WaitShutdown blocks until the object is completely shut down, and
	// returns the final completion status
	WaitShutdown() error
}

// Helper is a base that manages clean asynchronous object shutdown for an
// object that implements HandleOnceShutdowner
type Helper struct {
	// Logger is the Logger that will be used for log output from this helper
	logger.Logger

	// Lock is a general-purpose fine-grained mutex for this helper; it may be used
	// as a general-purpose lock by derived objects as well
	Lock sync.Mutex

	shutdownHandler HandleOnceShutdowner

	// shutdownPauseCount is the number of times ResumeShutdown() must be called before
	// shutdown can commence
	shutdownPauseCount int

	isActivated         bool
	isScheduledShutdown bool
	isStartedShutdown   bool
	isDoneShutdown      bool

	// shutdownErr contains the final completion status after isDoneShutdown is true
	shutdownErr error

	shutdownStartedChan     chan struct{}
	shutdownHandlerDoneChan chan struct{}
	shutdownDoneChan        chan struct{}

	// wg is waited on before shutdown is considered complete; one count per child.
	wg sync.WaitGroup
}

// InitHelper initializes a Helper in place
func (h *Helper) InitHelper(logger logger.Logger, shutdownHandler HandleOnceShutdowner) {
	h.Logger = logger
	h.shutdownHandler = shutdownHandler
	h.shutdownStartedChan = make(chan struct{})
	h.shutdownHandlerDoneChan = make(chan struct{})
	h.shutdownDoneChan = make(chan struct{})
}

// NewHelper creates a new Helper on the heap
func NewHelper(logger logger.Logger, shutdownHandler HandleOnceShutdowner) *Helper {
	h := &Helper{}
	h.InitHelper(logger, shutdownHandler)
	return h
}

// asyncDoStartedShutdown starts background processing of shutdown *after*
// h.isStartedShutdown has already been set to true and h.shutdownErr has been set
// to the advisory completion error
func (h *Helper) asyncDoStartedShutdown() {
	h.TLogf("->shutdownStarted")
	close(h.shutdownStartedChan)
	go func() {
		h.Lock.Lock()
		advisoryErr := h.shutdownErr
		h.Lock.Unlock()
		finalErr := h.shutdownHandler.HandleOnceShutdown(advisoryErr)
		h.Lock.Lock()
		h.shutdownErr = finalErr
		h.Lock.Unlock()
		h.TLogf("->shutdownHandlerDone")
		close(h.shutdownHandlerDoneChan)
		h.wg.Wait()
		h.Lock.Lock()
		h.isDoneShutdown = true
		h.Lock.Unlock()
		h.TLogf("->shutdownDone")
		close(h.shutdownDoneChan)
	}()
}

// PauseShutdown increments the shutdown pause count, preventing shutdown from starting. Returns an error
// if shutdown has already started. Each successful call to PauseShutdown must pair with a matching
// call to ResumeShutdown.
func (h *Helper) PauseShutdown() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if h.isStartedShutdown {
		return h.Errorf("shutdown already started; cannot pause")
	}
	h.shutdownPauseCount++
	return nil
}

// ResumeShutdown decrements the shutdown pause count, and if it becomes zero, allows shutdown to start
func (h *Helper) ResumeShutdown() {
	h.Lock.Lock()
	if h.shutdownPauseCount < 1 {
		h.Lock.Unlock()
		h.Panicf("ResumeShutdown before PauseShutdown")
		return
	}
	h.shutdownPauseCount--
	doShutdownNow := h.shutdownPauseCount == 0 && h.isScheduledShutdown && !h.isStartedShutdown
	if doShutdownNow {
		h.isStartedShutdown = true
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// IsActivated returns true if this helper has been activated
func (h *Helper) IsActivated() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isActivated
}

// Activate sets the "activated" flag for this helper. Does nothing
// if already activated. Fails if shutdown has already been started.
func (h *Helper) Activate() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if !h.isActivated {
		if h.isStartedShutdown {
			return h.Errorf("cannot activate; shutdown already initiated")
		}
		h.isActivated = true
	}
	return nil
}

// DoOnceActivate takes steps to activate the object:
//
//	if already activated, returns nil
//	if not activated and already started shutting down:
//	   if waitOnFail is true, waits for shutdown to complete
//	   returns an error
//	if not activated and not shutting down:
//	   pauses shutdown
//	   invokes the OnceActivateHandler
//	   resumes shutdown
//	   if handler returns nil, activates the object
//	   if handler or activation returns an error:
//	      starts shutting down with that error
//	      if waitOnFail is true, waits for shutdown to complete
//	      returns the error
func (h *Helper) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	var err error
	h.Lock.Lock()
	if h.isActivated {
		h.Lock.Unlock()
		return nil
	}
	if h.isStartedShutdown {
		h.Lock.Unlock()
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("shutdown already started; cannot activate")
		}
		return err
	}
	h.shutdownPauseCount++
	h.Lock.Unlock()
	err = onceActivateHandler()
	if err == nil {
		err = h.Activate()
	}
	if err != nil {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	if err != nil && waitOnFail {
		_ = h.WaitShutdown()
	}
	return err
}

// ShutdownOnContext begins background monitoring of a context.Context, and
// will begin asynchronously shutting down this helper with the context's error
// if the context is completed. This method does not block.
func (h *Helper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.shutdownStartedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown returns true if shutdown has begun. It continues to return true after shutdown
// is complete
func (h *Helper) IsStartedShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isStartedShutdown
}

// IsDoneShutdown returns true if shutdown is complete.
func (h *Helper) IsDoneShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isDoneShutdown
}

// ShutdownStartedChan returns a channel that will be closed as soon as shutdown is initiated
func (h *Helper) ShutdownStartedChan() <-chan struct{} {
	return h.shutdownStartedChan
}

// ShutdownDoneChan returns a channel that will be closed after shutdown is done
func (h *Helper) ShutdownDoneChan() <-chan struct{} {
	return h.shutdownDoneChan
}

// WaitShutdown waits for the shutdown to complete, then returns the shutdown status.
// It does not initiate shutdown.
func (h *Helper) WaitShutdown() error {
	<-h.shutdownDoneChan
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.shutdownErr
}

// Shutdown performs a synchronous shutdown. It initiates shutdown if it has
// not already started, waits for the shutdown to complete, then returns
// the final shutdown status
func (h *Helper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// StartShutdown schedules asynchronous shutdown of the object. If the object
// has already been scheduled for shutdown, it has no effect. If shutting down has
// been paused, actual starting of the shutdown process is deferred.
//
// Only the first call does anything:
//
//   - Signal that shutdown has started (once the pause count reaches 0)
//   - Invoke HandleOnceShutdown with the advisory completion status; its
//     return value becomes the final completion status
//   - Shut down registered children and wait for them
//   - Signal shutdown complete
func (h *Helper) StartShutdown(completionErr error) {
	var doShutdownNow bool
	h.Lock.Lock()
	if !h.isScheduledShutdown {
		h.shutdownErr = completionErr
		h.isScheduledShutdown = true
		doShutdownNow = h.shutdownPauseCount == 0
		h.isStartedShutdown = doShutdownNow
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// Close is a default implementation of Close(), which simply shuts down
// with an advisory completion status of nil, and returns the final completion
// status
func (h *Helper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild adds a child object to the set of objects that will be
// actively shut down by this helper after HandleOnceShutdown() returns, before this
// object's shutdown is considered complete. The child will be shut down with an advisory
// completion status equal to the status returned from HandleOnceShutdown
func (h *Helper) AddShutdownChild(child AsyncShutdowner) {
	h.DLogf("AddShutdownChild(\"%s\")", child)
	h.wg.Add(1)
	go func() {
		select {
		case <-child.ShutdownDoneChan():
		case <-h.shutdownHandlerDoneChan:
			h.Lock.Lock()
			err := h.shutdownErr
			h.Lock.Unlock()
			child.StartShutdown(err)
			_ = child.WaitShutdown()
		}
		h.TLogf("shutdown of child done: \"%s\"", child)
		h.wg.Done()
	}()
}
