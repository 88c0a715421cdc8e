package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

func sharedKey(key string) string {
	return path.Join(SharedDir, key+".json")
}

func (c *Coordinator) sharedDir() (string, error) {
	dir := filepath.Join(c.opts.DataDir, SharedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create shared directory: %w", err)
	}
	return dir, nil
}

func (c *Coordinator) watchShared() (*fsnotify.Watcher, error) {
	dir, err := c.sharedDir()
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func isKeyWrite(ev fsnotify.Event, key string) bool {
	return filepath.Base(ev.Name) == key+".json" && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write))
}

func (c *Coordinator) putShared(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.files.WriteAtomic(ctx, sharedKey(key), data, func(staged []byte) error {
		if !json.Valid(staged) {
			return errors.New("staged shared key is not valid json")
		}
		return nil
	})
}

func (c *Coordinator) getShared(key string, v any) error {
	data, err := c.files.Read(sharedKey(key))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c *Coordinator) serveShared(ctx context.Context, w *fsnotify.Watcher, handle func(context.Context, Request) Ack) {
	defer func() { _ = w.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !isKeyWrite(ev, KeyImportRequest) {
				continue
			}
			var req Request
			if err := c.getShared(KeyImportRequest, &req); err != nil {
				logger().DebugContext(ctx, "unreadable shared request", "error", err)
				continue
			}
			ack := handle(ctx, req)
			if err := c.putShared(ctx, KeyImportAck, ack); err != nil {
				logger().WarnContext(ctx, "failed to write shared ack", "id", req.ID, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger().WarnContext(ctx, "shared-key watch error", "error", err)
		}
	}
}

func (c *Coordinator) deliverShared(ctx context.Context, req Request) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SharedTimeout)
	defer cancel()

	// Watch before writing so the ack cannot slip past.
	w, err := c.watchShared()
	if err != nil {
		return Ack{}, err
	}
	defer func() { _ = w.Close() }()

	if err := c.putShared(ctx, KeyImportRequest, req); err != nil {
		return Ack{}, fmt.Errorf("failed to write request: %w", err)
	}

	check := func() (Ack, bool) {
		var ack Ack
		if err := c.getShared(KeyImportAck, &ack); err != nil {
			return Ack{}, false
		}
		return ack, ack.Type == TypeImportAck && ack.ID == req.ID
	}
	if ack, ok := check(); ok {
		return ack, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return Ack{}, errors.New("watcher closed")
			}
			if !isKeyWrite(ev, KeyImportAck) {
				continue
			}
			if ack, ok := check(); ok {
				return ack, nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return Ack{}, errors.New("watcher closed")
			}
			logger().DebugContext(ctx, "shared-key watch error", "error", err)
		}
	}
}
