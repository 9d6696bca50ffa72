package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
)

const maxMessageSize = 64 << 10

var (
	errSendBufferFull = errors.New("send buffer full")
	errMissedProbe    = errors.New("missed liveness probe")
	errShutdown       = errors.New("server shutting down")
)

// State is the lifecycle state of a connection.
type State int32

const (
	Connecting State = iota
	Live
	Dead
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Dead:
		return "dead"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CommandRequest is the payload of a COMMAND frame.
type CommandRequest struct {
	ID string `json:"id"`
	allocation.Command
}

// Conn is one websocket client. It implements events.Subscriber.
type Conn struct {
	id    string
	reg   *Registry
	ws    *websocket.Conn
	send  chan []byte
	alive atomic.Bool
	done  chan struct{}

	// mu guards state and caller, and makes delivery and removal mutually
	// exclusive.
	mu     sync.Mutex
	state  State
	caller model.Caller
}

func newConn(reg *Registry, id string, ws *websocket.Conn, caller model.Caller) *Conn {
	c := &Conn{
		id:     id,
		reg:    reg,
		ws:     ws,
		send:   make(chan []byte, reg.opts.SendBuffer),
		done:   make(chan struct{}),
		state:  Connecting,
		caller: caller,
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection identity.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Caller returns the identity the client presented, if any.
func (c *Conn) Caller() model.Caller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caller
}

func (c *Conn) setCaller(caller model.Caller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = caller
}

// Deliver queues an event frame without blocking. The first frame a
// connection accepts is its InitialState, which makes it Live. A full send
// buffer kills the connection; the client resynchronizes on reconnect.
func (c *Conn) Deliver(env *events.Envelope) bool {
	msg, err := env.Frame()
	if err != nil {
		log.Printf("Error encoding event %d for connection %s: %v", env.Seq, c.id, err)
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enqueueLocked(msg) {
		return false
	}
	if c.state == Connecting {
		c.state = Live
	}
	return true
}

func (c *Conn) reply(frameType string, payload any) {
	msg, err := events.ControlFrame(frameType, payload)
	if err != nil {
		log.Printf("Error encoding %s frame for connection %s: %v", frameType, c.id, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(msg)
}

func (c *Conn) enqueueLocked(msg []byte) bool {
	if c.state != Connecting && c.state != Live {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		// Called with the bus lock held; release outside it.
		c.terminateLocked(Dead)
		go c.reg.release(c, Dead, errSendBufferFull)
		return false
	}
}

// terminateLocked moves c to a final state. It reports false if c already
// reached one.
func (c *Conn) terminateLocked(state State) bool {
	if c.state == Dead || c.state == Closed {
		return false
	}
	c.state = state
	close(c.done)
	return true
}

func (c *Conn) writePump() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.reg.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.reg.remove(c, Dead, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			state := Dead
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				state = Closed
			}
			c.reg.remove(c, state, err)
			return
		}
		c.alive.Store(true)
		c.handle(ctx, data)
	}
}

func (c *Conn) handle(ctx context.Context, data []byte) {
	var f events.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(events.FrameError, events.ErrorPayload{Message: "malformed frame"})
		return
	}

	switch f.Type {
	case events.FramePing:
		c.reply(events.FramePong, nil)
	case events.FrameIdentify:
		var caller model.Caller
		if err := json.Unmarshal(f.Payload, &caller); err != nil {
			c.reply(events.FrameError, events.ErrorPayload{Message: "malformed IDENTIFY payload"})
			return
		}
		if caller.Role != "" && caller.Role != model.RoleATC && caller.Role != model.RoleStakeholder {
			c.reply(events.FrameError, events.ErrorPayload{Message: fmt.Sprintf("unknown role %q", caller.Role)})
			return
		}
		c.setCaller(caller)
	case events.FrameCommand:
		var req CommandRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			c.reply(events.FrameError, events.ErrorPayload{Message: "malformed COMMAND payload"})
			return
		}
		c.reply(events.FrameCommandResult, c.execute(ctx, req))
	default:
		c.reply(events.FrameError, events.ErrorPayload{Message: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

func (c *Conn) execute(ctx context.Context, req CommandRequest) events.CommandResult {
	out, err := c.reg.coord.Execute(ctx, c.Caller(), req.Command)
	if err != nil {
		return events.CommandResult{ID: req.ID, Error: err.Error(), Code: allocation.Code(err)}
	}
	result, err := json.Marshal(out)
	if err != nil {
		log.Printf("Error encoding result of %s on connection %s: %v", req.Action, c.id, err)
		return events.CommandResult{ID: req.ID, OK: true}
	}
	return events.CommandResult{ID: req.ID, OK: true, Result: result}
}
