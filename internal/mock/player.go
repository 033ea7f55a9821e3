// Package mock provides a simulated player that speaks enough of mpv's JSON
// IPC protocol to run watchr without a real mpv binary.
package mock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

const defaultTick = 250 * time.Millisecond

// Player listens on a unix socket and keeps a small property table. While
// unpaused, playback-time advances on every tick.
type Player struct {
	mu       sync.Mutex
	props    map[string]string
	position float64
	tick     time.Duration
	conns    map[*playerConn]struct{}
	received [][]any
	ln       net.Listener
	wg       sync.WaitGroup
}

type playerConn struct {
	conn     net.Conn
	writeMu  sync.Mutex
	observed map[string]int // property -> observe id
	events   bool
}

type request struct {
	Command []any `json:"command"`
}

type response struct {
	Data      any    `json:"data,omitempty"`
	RequestID int    `json:"request_id"`
	Error     string `json:"error"`
}

type propertyChange struct {
	Event string `json:"event"`
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Data  string `json:"data"`
}

// NewPlayer returns a paused player at position zero. tick <= 0 uses the
// default.
func NewPlayer(tick time.Duration) *Player {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Player{
		props: map[string]string{
			"pause":         "yes",
			"playback-time": formatPosition(0),
		},
		tick:  tick,
		conns: make(map[*playerConn]struct{}),
	}
}

// Listen binds the IPC socket at path, replacing a stale one.
func (p *Player) Listen(path string) error {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.ln = ln
	p.mu.Unlock()
	return nil
}

// Start accepts connections and runs the playback clock until ctx ends.
func (p *Player) Start(ctx context.Context) {
	p.mu.Lock()
	ln := p.ln
	p.mu.Unlock()

	if ln != nil {
		p.wg.Add(1)
		go p.acceptLoop(ln)
	}
	go p.run(ctx)
}

func (p *Player) run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Close()
			return
		case <-ticker.C:
			p.mu.Lock()
			paused := p.props["pause"] == "yes"
			p.mu.Unlock()
			if !paused {
				p.advance(p.tick.Seconds())
			}
		}
	}
}

func (p *Player) advance(seconds float64) {
	p.mu.Lock()
	p.position += seconds
	value := formatPosition(p.position)
	p.props["playback-time"] = value
	p.mu.Unlock()
	p.emit("playback-time", value)
}

// Set changes a property as if the viewer had done it, notifying observers.
func (p *Player) Set(name, value string) {
	p.mu.Lock()
	p.setLocked(name, value)
	p.mu.Unlock()
	p.emit(name, value)
}

func (p *Player) setLocked(name, value string) {
	if name == "playback-time" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			p.position = v
		}
	}
	p.props[name] = value
}

func (p *Player) Get(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.props[name]
	return v, ok
}

// Received returns every command the player has been sent, in order.
func (p *Player) Received() [][]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]any, len(p.received))
	copy(out, p.received)
	return out
}

func (p *Player) Close() error {
	p.mu.Lock()
	ln := p.ln
	p.ln = nil
	conns := make([]*playerConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.conn.Close()
	}
	return err
}

func (p *Player) acceptLoop(ln net.Listener) {
	defer p.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		pc := &playerConn{conn: conn, observed: make(map[string]int), events: true}
		p.mu.Lock()
		p.conns[pc] = struct{}{}
		p.mu.Unlock()
		go p.serve(pc)
	}
}

func (p *Player) serve(pc *playerConn) {
	defer func() {
		p.mu.Lock()
		delete(p.conns, pc)
		p.mu.Unlock()
		pc.conn.Close()
	}()

	scanner := bufio.NewScanner(pc.conn)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || len(req.Command) == 0 {
			pc.write(response{Error: "invalid parameter"})
			continue
		}
		p.mu.Lock()
		p.received = append(p.received, req.Command)
		p.mu.Unlock()
		p.handle(pc, req.Command)
	}
}

func (p *Player) handle(pc *playerConn, cmd []any) {
	name, _ := cmd[0].(string)
	switch name {
	case "observe_property_string", "observe_property":
		id, prop, ok := observeArgs(cmd)
		if !ok {
			pc.write(response{Error: "invalid parameter"})
			return
		}
		p.mu.Lock()
		pc.observed[prop] = id
		value, have := p.props[prop]
		p.mu.Unlock()
		pc.write(response{Error: "success"})
		// mpv reports the current value right after observing.
		if have {
			p.notify(pc, prop, value)
		}

	case "set_property_string", "set_property":
		if len(cmd) != 3 {
			pc.write(response{Error: "invalid parameter"})
			return
		}
		prop, _ := cmd[1].(string)
		value := stringify(cmd[2])
		if prop == "" {
			pc.write(response{Error: "invalid parameter"})
			return
		}
		p.mu.Lock()
		p.setLocked(prop, value)
		p.mu.Unlock()
		pc.write(response{Error: "success"})
		p.emit(prop, value)

	case "get_property_string", "get_property":
		if len(cmd) != 2 {
			pc.write(response{Error: "invalid parameter"})
			return
		}
		prop, _ := cmd[1].(string)
		value, ok := p.Get(prop)
		if !ok {
			pc.write(response{Error: "property unavailable"})
			return
		}
		pc.write(response{Error: "success", Data: value})

	case "disable_event":
		p.mu.Lock()
		pc.events = false
		p.mu.Unlock()
		pc.write(response{Error: "success"})

	case "enable_event":
		p.mu.Lock()
		pc.events = true
		p.mu.Unlock()
		pc.write(response{Error: "success"})

	default:
		pc.write(response{Error: "invalid parameter"})
	}
}

// emit sends a property-change to every connection observing name.
func (p *Player) emit(name, value string) {
	p.mu.Lock()
	targets := make([]*playerConn, 0, len(p.conns))
	for pc := range p.conns {
		targets = append(targets, pc)
	}
	p.mu.Unlock()

	for _, pc := range targets {
		p.notify(pc, name, value)
	}
}

func (p *Player) notify(pc *playerConn, name, value string) {
	p.mu.Lock()
	id, observed := pc.observed[name]
	enabled := pc.events
	p.mu.Unlock()
	if !observed || !enabled {
		return
	}
	pc.write(propertyChange{Event: "property-change", ID: id, Name: name, Data: value})
}

func (pc *playerConn) write(v any) {
	line, err := json.Marshal(v)
	if err != nil {
		return
	}
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	pc.conn.Write(append(line, '\n'))
}

func observeArgs(cmd []any) (int, string, bool) {
	if len(cmd) != 3 {
		return 0, "", false
	}
	id, ok := cmd[1].(float64)
	if !ok {
		return 0, "", false
	}
	prop, ok := cmd[2].(string)
	if !ok || prop == "" {
		return 0, "", false
	}
	return int(id), prop, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func formatPosition(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
