package instance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"
)

// connTimeout bounds how long the owner spends on one connection.
const connTimeout = 30 * time.Second

func (c *Coordinator) socketPath() string {
	return filepath.Join(c.opts.DataDir, SocketFile)
}

// listenSocket binds the owner's socket. Holding the lock means any
// existing socket file is left over from a previous owner.
func (c *Coordinator) listenSocket() (net.Listener, error) {
	p := c.socketPath()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", p)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", p, err)
	}
	return ln, nil
}

func (c *Coordinator) serveSocket(ctx context.Context, ln net.Listener, handle func(context.Context, Request) Ack) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer func() { _ = os.Remove(c.socketPath()) }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger().WarnContext(ctx, "socket accept failed", "error", err)
			continue
		}
		go c.serveConn(ctx, conn, handle)
	}
}

func (c *Coordinator) serveConn(ctx context.Context, conn net.Conn, handle func(context.Context, Request) Ack) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req Request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		logger().WarnContext(ctx, "bad delegation request", "error", err)
		return
	}
	ack := handle(ctx, req)
	if err := json.NewEncoder(conn).Encode(ack); err != nil {
		logger().DebugContext(ctx, "failed to write ack", "id", req.ID, "error", err)
	}
}

func (c *Coordinator) deliverSocket(ctx context.Context, req Request) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SocketTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath())
	if err != nil {
		return Ack{}, err
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Ack{}, fmt.Errorf("failed to send request: %w", err)
	}
	var ack Ack
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("no ack: %w", err)
	}
	if ack.Type != TypeImportAck || ack.ID != req.ID {
		return Ack{}, fmt.Errorf("ack for %q does not match request %q", ack.ID, req.ID)
	}
	return ack, nil
}
