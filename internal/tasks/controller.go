package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
)

// Cancellation causes attached to a request's context.
var (
	ErrCanceled   = errors.New("upscale canceled")
	ErrSuperseded = errors.New("upscale superseded by a newer request")
)

const defaultSubscriberBuffer = 16

// Streamer is the subset of the backend the controller needs.
type Streamer interface {
	Stream(ctx context.Context, image services.Image, params services.UpscaleParams) (*services.EventStream, error)
	Health(ctx context.Context) (*services.HealthStatus, error)
}

// Recorder observes session lifecycles, typically to persist history.
//
// Started is called once per request before the stream opens; Finished once when its goroutine exits.
// A session finishing in [StatusIdle] was cancelled or superseded.
type Recorder interface {
	Started(s Session, image services.Image, params services.UpscaleParams)
	Finished(s Session)
}

// OutputRecorder is implemented by recorders that also track where results were written.
type OutputRecorder interface {
	Saved(sessionID, path string)
}

// ControllerOpts configures a [Controller].
type ControllerOpts struct {
	Logger           *log.Logger
	Recorder         Recorder      // optional
	Timeout          time.Duration // per request; zero means no limit
	SubscriberBuffer int           // default 16
}

type request struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Controller drives one upscale at a time and publishes its [Session] state.
//
// Starting a new upscale cancels the one in flight. Every state change made by a request's
// goroutine is applied only while that request is still the active one.
type Controller struct {
	client   Streamer
	logger   *log.Logger
	recorder Recorder
	timeout  time.Duration
	bufSize  int

	mu      sync.Mutex
	session Session
	active  *request
	subs    map[int]chan Session
	nextSub int
}

// NewController creates an idle controller backed by client.
func NewController(client Streamer, opts ControllerOpts) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	bufSize := opts.SubscriberBuffer
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}

	return &Controller{
		client:   client,
		logger:   logger,
		recorder: opts.Recorder,
		timeout:  opts.Timeout,
		bufSize:  bufSize,
		session:  Cleared(),
		subs:     make(map[int]chan Session),
	}
}

// Upscale supersedes any request in flight and starts streaming a new one.
//
// Parameters are sent as given; the backend is the authority on their bounds.
// The returned channel is closed once the request's goroutine has exited and its final state is published.
func (c *Controller) Upscale(ctx context.Context, image services.Image, params services.UpscaleParams) <-chan struct{} {
	reqCtx, cancel := context.WithCancelCause(ctx)
	req := &request{
		id:     shared.GenerateID(),
		ctx:    reqCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if prev := c.active; prev != nil {
		prev.cancel(ErrSuperseded)
	}
	c.active = req
	c.publishLocked(Started(req.id))
	c.mu.Unlock()

	go c.run(req, image, params)
	return req.done
}

// Cancel aborts the request in flight and returns to idle. Without an active request it does nothing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(ErrCanceled)
}

// Reset cancels any request in flight and clears the error and result.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(ErrCanceled)
	c.publishLocked(Cleared())
}

func (c *Controller) cancelLocked(cause error) {
	req := c.active
	if req == nil {
		return
	}
	c.active = nil
	req.cancel(cause)
	c.publishLocked(Idle(c.session))
}

// CheckHealth queries the backend's health endpoint. Any failure yields nil.
func (c *Controller) CheckHealth(ctx context.Context) (health *services.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health check panicked", "panic", r)
			health = nil
		}
	}()

	health, err := c.client.Health(ctx)
	if err != nil {
		c.logger.Debug("health check failed", "err", err)
		return nil
	}
	return health
}

// Session returns a snapshot of the current state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Subscribe returns a channel receiving a snapshot on every state change, starting with the current one.
//
// A subscriber that falls behind loses its oldest pending snapshots, never the newest.
// The returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, c.bufSize)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.session.clone()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) publishLocked(s Session) {
	c.session = s
	for _, ch := range c.subs {
		snapshot := s.clone()
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

// commit publishes s if req is still active. A terminal s releases the active handle.
func (c *Controller) commit(req *request, s Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != req {
		return false
	}
	if s.Status != StatusProcessing {
		c.active = nil
	}
	c.publishLocked(s)
	return true
}

func (c *Controller) run(req *request, image services.Image, params services.UpscaleParams) {
	defer close(req.done)
	defer req.cancel(nil)

	logger := shared.WithLogger(c.logger, "session", shared.ShortID(req.id))
	local := Started(req.id)

	if c.recorder != nil {
		c.recorder.Started(local, image, params)
		defer func() { c.recorder.Finished(local) }()
	}

	ctx := req.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger.Info("upscale started", "image", image.Name, "scale", params.Scale, "ml", params.UseML)

	stream, err := c.client.Stream(ctx, image, params)
	if err != nil {
		local = c.finish(req, local, err, logger)
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, services.ErrMalformedEvent) {
				logger.Debug("skipping malformed event", "err", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = shared.ErrStreamIncomplete
			}
			local = c.finish(req, local, err, logger)
			return
		}

		if ev.Type == services.EventFallback {
			logger.Warn("server fell back from ML", "reason", ev.Reason)
		}

		next := Apply(local, ev)
		if !c.commit(req, next) {
			logger.Debug("dropping event for inactive request", "type", ev.Type)
			local = Idle(local)
			return
		}
		local = next

		switch local.Status {
		case StatusComplete:
			logger.Info("upscale complete", "method", local.Result.Method,
				"from", local.Result.OriginalSize, "to", local.Result.UpscaledSize)
			return
		case StatusError:
			logger.Warn("upscale failed", "err", local.Err)
			return
		}
	}
}

// finish settles a request that ended without a terminal event.
func (c *Controller) finish(req *request, local Session, err error, logger *log.Logger) Session {
	if c.interrupted(req) {
		logger.Debug("upscale canceled", "cause", context.Cause(req.ctx))
		local = Idle(local)
		c.commit(req, local)
		return local
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}

	local = Fail(local, err)
	if c.commit(req, local) {
		logger.Warn("upscale failed", "err", err)
	} else {
		local = Idle(local)
	}
	return local
}

// interrupted reports whether req was cancelled rather than failed.
//
// A deadline on the caller's context counts as a failure.
func (c *Controller) interrupted(req *request) bool {
	if req.ctx.Err() == nil {
		return false
	}
	cause := context.Cause(req.ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return false
	}
	return true
}
