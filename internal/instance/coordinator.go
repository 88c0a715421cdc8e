package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
	"github.com/AdamBeresnev/cuptrack/internal/vfs"
	"github.com/google/uuid"
)

var (
	ErrNotOwner = errors.New("instance does not own the data directory")
	ErrIsOwner  = errors.New("instance owns the data directory; import directly")
)

// Handler runs a delegated import on the owner. Type and ID of the returned
// Ack are filled in by the coordinator.
type Handler func(ctx context.Context, req Request) Ack

type Options struct {
	DataDir string

	// TabID identifies this process in requests. Defaults to a fresh uuid.
	TabID string

	SocketTimeout time.Duration
	SharedTimeout time.Duration

	// Today is used to validate previews. Defaults to the UTC day.
	Today func() string
}

type Coordinator struct {
	opts  Options
	files *filestore.Store
	acks  *ackCache

	mu   sync.Mutex
	lock *Lock
	role Role
}

func New(opts Options) *Coordinator {
	if opts.TabID == "" {
		opts.TabID = uuid.NewString()
	}
	if opts.SocketTimeout <= 0 {
		opts.SocketTimeout = DefaultSocketTimeout
	}
	if opts.SharedTimeout <= 0 {
		opts.SharedTimeout = DefaultSharedTimeout
	}
	if opts.Today == nil {
		opts.Today = func() string { return calendar.Today(nil) }
	}
	return &Coordinator{
		opts:  opts,
		files: filestore.New(vfs.Default(), opts.DataDir),
		acks:  newAckCache(),
	}
}

// Acquire takes the instance lock if it is free. It never blocks; a process
// that finds the lock held becomes a guest.
func (c *Coordinator) Acquire() (Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleNone {
		return c.role, nil
	}

	lock, granted, err := TryLock(c.opts.DataDir, LockFile)
	if err != nil {
		return RoleNone, err
	}
	if granted {
		c.lock = lock
		c.role = RoleOwner
	} else {
		c.role = RoleGuest
	}
	logger().Info("instance role acquired", "role", c.role, "tab", c.opts.TabID)
	return c.role, nil
}

func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Coordinator) TabID() string {
	return c.opts.TabID
}

// Close gives up ownership, if held.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleNone
	if c.lock == nil {
		return nil
	}
	err := c.lock.Release()
	c.lock = nil
	return err
}

// Serve answers delegated imports over both transports until ctx is done.
// A transport that fails to start is logged and skipped; Serve fails only
// when neither can run.
func (c *Coordinator) Serve(ctx context.Context, handler Handler) error {
	if c.Role() != RoleOwner {
		return ErrNotOwner
	}
	handle := func(ctx context.Context, req Request) Ack {
		return c.handle(ctx, req, handler)
	}

	var wg sync.WaitGroup
	var started int
	var errs []error

	if ln, err := c.listenSocket(); err != nil {
		logger().WarnContext(ctx, "socket transport unavailable", "error", err)
		errs = append(errs, err)
	} else {
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.serveSocket(ctx, ln, handle)
		}()
	}

	if w, err := c.watchShared(); err != nil {
		logger().WarnContext(ctx, "shared-key transport unavailable", "error", err)
		errs = append(errs, err)
	} else {
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.serveShared(ctx, w, handle)
		}()
	}

	if started == 0 {
		return fmt.Errorf("no delegation transport could start: %w", errors.Join(errs...))
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Coordinator) handle(ctx context.Context, req Request, handler Handler) Ack {
	if req.Type != TypeImportRequest || req.ID == "" {
		return Ack{Type: TypeImportAck, ID: req.ID, Error: fmt.Sprintf("unsupported request type %q", req.Type)}
	}
	ack, dup := c.acks.do(ctx, req.ID, func() Ack {
		a := handler(ctx, req)
		a.Type = TypeImportAck
		a.ID = req.ID
		return a
	})
	if dup {
		logger().DebugContext(ctx, "duplicate delegated import", "id", req.ID, "tab", req.TabID)
	}
	return ack
}

// Outcome is what a guest learns after delegating an import. When nothing
// acknowledged the request, Preview holds the decoded payload (or PreviewErr
// why it could not be decoded) and Retry resends the same request.
type Outcome struct {
	Delivered  bool
	Transport  string
	Ack        Ack
	Request    Request
	Err        error
	Preview    *payload.Payload
	PreviewErr error

	retry func(ctx context.Context) Outcome
}

// Retry resends an undelivered request under the same id, so the owner
// replays its ack if the first attempt did arrive.
func (o Outcome) Retry(ctx context.Context) (Outcome, error) {
	if o.Delivered || o.retry == nil {
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		return o, err
	}
	return o.retry(ctx), nil
}

// DelegateImport hands raw to the owner and waits for its ack.
func (c *Coordinator) DelegateImport(ctx context.Context, raw string) (Outcome, error) {
	return c.RedeliverImport(ctx, uuid.NewString(), raw)
}

// RedeliverImport resends raw under a request id from an earlier Outcome.
// An owner that already handled id answers with its cached ack.
func (c *Coordinator) RedeliverImport(ctx context.Context, id, raw string) (Outcome, error) {
	if c.Role() == RoleOwner {
		return Outcome{}, ErrIsOwner
	}
	if _, err := uuid.Parse(id); err != nil {
		return Outcome{}, fmt.Errorf("invalid request id %q: %w", id, err)
	}
	req := Request{
		Type:    TypeImportRequest,
		ID:      id,
		TabID:   c.opts.TabID,
		Payload: raw,
		SentAt:  utils.Timestamp(time.Now()),
	}
	return c.deliver(ctx, req), nil
}

func (c *Coordinator) deliver(ctx context.Context, req Request) Outcome {
	ack, sockErr := c.deliverSocket(ctx, req)
	if sockErr == nil {
		return Outcome{Delivered: true, Transport: "socket", Ack: ack, Request: req}
	}
	logger().DebugContext(ctx, "socket delegation failed", "id", req.ID, "error", sockErr)

	ack, sharedErr := c.deliverShared(ctx, req)
	if sharedErr == nil {
		return Outcome{Delivered: true, Transport: "shared", Ack: ack, Request: req}
	}

	o := Outcome{
		Request: req,
		Err:     errors.Join(fmt.Errorf("socket: %w", sockErr), fmt.Errorf("shared: %w", sharedErr)),
		retry:   func(ctx context.Context) Outcome { return c.deliver(ctx, req) },
	}
	if encoded, err := payload.ExtractFromLink(req.Payload); err != nil {
		o.PreviewErr = err
	} else if decoded, err := payload.Decode(encoded, payload.Options{Today: c.opts.Today()}); err != nil {
		o.PreviewErr = err
	} else {
		o.Preview = &decoded.Payload
	}
	logger().WarnContext(ctx, "import not acknowledged by owner, falling back to preview", "id", req.ID, "error", o.Err)
	return o
}

func logger() *slog.Logger {
	return slog.Default().With("component", "instance")
}
