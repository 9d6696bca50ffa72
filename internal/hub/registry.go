package hub

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bay-allocation-backend/internal/allocation"
	"bay-allocation-backend/internal/events"
	"bay-allocation-backend/internal/model"
)

// Coordinator is the part of the allocation coordinator the registry needs.
type Coordinator interface {
	Subscribe(id string, sub events.Subscriber) bool
	Unsubscribe(id string)
	Execute(ctx context.Context, caller model.Caller, cmd allocation.Command) (any, error)
}

// Options tunes connection handling.
type Options struct {
	ProbeInterval  time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

// Registry tracks live websocket connections, attaches each to the event
// stream and reaps the ones that stop answering liveness probes.
type Registry struct {
	coord    Coordinator
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewRegistry creates a registry serving connections for coord.
func NewRegistry(coord Coordinator, opts Options) *Registry {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	r := &Registry{
		coord: coord,
		opts:  opts,
		conns: make(map[string]*Conn),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return r
}

// checkOrigin returns nil, gorilla's same-origin check, when no origins are
// configured.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Serve upgrades the request to a websocket, sends the client its
// InitialState and streams events to it until it disconnects.
func (r *Registry) Serve(w http.ResponseWriter, req *http.Request, caller model.Caller) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("Error upgrading connection from %s: %v", req.RemoteAddr, err)
		return
	}

	c := newConn(r, uuid.NewString(), ws, caller)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, errShutdown.Error()),
			time.Now().Add(r.opts.WriteTimeout))
		ws.Close()
		return
	}
	r.conns[c.id] = c
	r.mu.Unlock()

	go c.writePump()
	if !r.coord.Subscribe(c.id, c) {
		r.remove(c, Dead, errors.New("initial state rejected"))
		return
	}
	log.Printf("Connection %s live from %s (%d total)", c.id, req.RemoteAddr, r.Count())
	go c.readPump()
}

// Run probes every connection on a fixed interval until ctx is done. A
// connection that sent nothing and answered no probe since the previous tick
// is removed as dead.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probe()
		}
	}
}

// probe pings every connection in parallel under one deadline of at most half
// the probe interval. A ping that times out behind a stalled writer is
// skipped; without a pong the connection fails the next sweep.
func (r *Registry) probe() {
	deadline := time.Now().Add(min(r.opts.WriteTimeout, r.opts.ProbeInterval/2))

	var wg sync.WaitGroup
	for _, c := range r.list() {
		if !c.alive.Swap(false) {
			r.remove(c, Dead, errMissedProbe)
			continue
		}
		wg.Add(1)
		c := c
		go func() {
			defer wg.Done()
			err := c.ws.WriteControl(websocket.PingMessage, nil, deadline)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			if err != nil {
				r.remove(c, Dead, err)
			}
		}()
	}
	wg.Wait()
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close sends every connection a going-away close frame, removes it and
// rejects new connections.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, errShutdown.Error())
	for _, c := range r.list() {
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.opts.WriteTimeout))
		r.remove(c, Closed, errShutdown)
	}
}

func (r *Registry) list() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// remove moves c to state and releases it. Only the first call for a
// connection has any effect.
func (r *Registry) remove(c *Conn, state State, reason error) {
	c.mu.Lock()
	ok := c.terminateLocked(state)
	c.mu.Unlock()
	if ok {
		r.release(c, state, reason)
	}
}

func (r *Registry) release(c *Conn, state State, reason error) {
	r.mu.Lock()
	delete(r.conns, c.id)
	remaining := len(r.conns)
	r.mu.Unlock()

	r.coord.Unsubscribe(c.id)
	c.ws.Close()
	log.Printf("Connection %s %s: %v (%d remaining)", c.id, state, reason, remaining)
}
