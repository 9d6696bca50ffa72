package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/hub"
	"bay-allocation-backend/internal/model"
)

// ErrNotConnected is returned by Do while no session is open.
var ErrNotConnected = errors.New("not connected")

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL    string
	Header http.Header
	// Caller is sent in an IDENTIFY frame at the start of every session.
	Caller model.Caller

	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
	// ReadTimeout is how long the session may go without hearing from the
	// server, including its pings, before it is torn down.
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
}

// Handler is called with every event after it has been applied to the view.
type Handler func(env *events.Envelope, view *View)

// Client keeps a View in sync with the server over a websocket, reconnecting
// after a fixed delay whenever the session ends.
type Client struct {
	opts    Options
	view    *View
	handler Handler

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan events.CommandResult
}

// New creates a client. handler may be nil.
func New(opts Options, handler Handler) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 15 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:    opts,
		view:    NewView(),
		handler: handler,
		pending: make(map[string]chan events.CommandResult),
	}
}

// View returns the replica maintained by the client.
func (c *Client) View() *View { return c.view }

// Run connects and keeps reconnecting until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Session to %s ended: %v. Reconnecting in %s", c.opts.URL, err, c.opts.RetryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer ws.Close()

	c.view.Reset()
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer c.detach()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		ws.Close()
	}()

	if c.opts.Caller != (model.Caller{}) {
		if err := c.write(events.FrameIdentify, c.opts.Caller); err != nil {
			return err
		}
	}
	go c.keepalive(sessionCtx)

	extend := func() { _ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)) }
	extend()
	ws.SetPingHandler(func(data string) error {
		extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		if err := c.handle(data); err != nil {
			return err
		}
	}
}

func (c *Client) handle(data []byte) error {
	var f events.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	switch f.Type {
	case events.FramePong:
		return nil
	case events.FrameError:
		var p events.ErrorPayload
		_ = json.Unmarshal(f.Payload, &p)
		log.Printf("Server reported error: %s", p.Message)
		return nil
	case events.FrameCommandResult:
		var res events.CommandResult
		if err := json.Unmarshal(f.Payload, &res); err != nil {
			return fmt.Errorf("failed to unmarshal command result: %w", err)
		}
		c.mu.Lock()
		ch, ok := c.pending[res.ID]
		delete(c.pending, res.ID)
		c.mu.Unlock()
		if ok {
			ch <- res
		}
		return nil
	}

	env, err := f.Envelope()
	if err != nil {
		return err
	}
	// A gap ends the session; the reconnect brings a fresh InitialState.
	if err := c.view.Apply(env); err != nil {
		return err
	}
	if c.handler != nil {
		c.handler(env, c.view)
	}
	return nil
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(events.FramePing, nil); err != nil {
				return
			}
		}
	}
}

// Do sends a command on the current session and waits for its result.
func (c *Client) Do(ctx context.Context, cmd allocation.Command) (events.CommandResult, error) {
	id := uuid.NewString()
	ch := make(chan events.CommandResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(events.FrameCommand, hub.CommandRequest{ID: id, Command: cmd}); err != nil {
		return events.CommandResult{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return events.CommandResult{}, ctx.Err()
	}
}

func (c *Client) write(frameType string, payload any) error {
	msg, err := events.ControlFrame(frameType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = nil
}
