package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted channels socket. onExecute runs when the runner
// submits its execute request, typically to push reply frames.
type fakeConn struct {
	mu        sync.Mutex
	msgID     string
	code      string
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	onExecute func(conn *fakeConn, msgID string)
}

func newFakeConn(onExecute func(conn *fakeConn, msgID string)) *fakeConn {
	return &fakeConn{
		frames:    make(chan []byte, 64),
		closed:    make(chan struct{}),
		onExecute: onExecute,
	}
}

func (c *fakeConn) SendExecuteRequest(msgID, code string) error {
	c.mu.Lock()
	c.msgID = msgID
	c.code = code
	c.mu.Unlock()
	if c.onExecute != nil {
		c.onExecute(c, msgID)
	}
	return nil
}

func (c *fakeConn) sentCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// push queues a frame for ReadFrame. Frames pushed after close are dropped.
func (c *fakeConn) push(frame []byte) {
	select {
	case c.frames <- frame:
	case <-c.closed:
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.closed:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// gatewayScript fabricates gateways for a supervisor under test and records
// kernel lifecycle calls across all of them.
type gatewayScript struct {
	mu        sync.Mutex
	nextID    int
	conns     map[string]*fakeConn
	deleted   []string
	closes    int
	createErr error
	dialErr   error

	onExecute func(conn *fakeConn, msgID string)
}

func newGatewayScript(onExecute func(conn *fakeConn, msgID string)) *gatewayScript {
	return &gatewayScript{conns: map[string]*fakeConn{}, onExecute: onExecute}
}

func (g *gatewayScript) factory(_, _, _ string) (KernelGateway, error) {
	return &scriptedGateway{script: g}, nil
}

func (g *gatewayScript) setCreateErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

func (g *gatewayScript) setDialErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialErr = err
}

func (g *gatewayScript) deletedKernels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deleted...)
}

func (g *gatewayScript) closeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes
}

// scriptedGateway is one daemon's view of the script.
type scriptedGateway struct {
	script *gatewayScript
}

func (sg *scriptedGateway) CreateKernel(context.Context) (string, error) {
	g := sg.script
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.nextID++
	return fmt.Sprintf("kernel-%d", g.nextID), nil
}

func (sg *scriptedGateway) DialChannels(_ context.Context, kernelID string) (ChannelConn, error) {
	g := sg.script
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dialErr != nil {
		return nil, g.dialErr
	}
	conn := newFakeConn(g.onExecute)
	g.conns[kernelID] = conn
	return conn, nil
}

func (sg *scriptedGateway) DeleteKernel(_ context.Context, kernelID string) error {
	g := sg.script
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, kernelID)
	return nil
}

func (sg *scriptedGateway) Close() {
	g := sg.script
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
}

// memorySink records every event it receives, in order.
type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *memorySink) statuses() []StatusData {
	var out []StatusData
	for _, event := range s.snapshot() {
		if data, ok := event.Data.(StatusData); ok {
			out = append(out, data)
		}
	}
	return out
}

func (s *memorySink) outputs() []OutputData {
	var out []OutputData
	for _, event := range s.snapshot() {
		if data, ok := event.Data.(OutputData); ok {
			out = append(out, data)
		}
	}
	return out
}

// protocolFrame builds a minimal kernel protocol frame.
func protocolFrame(msgType, parentID string, content map[string]any) []byte {
	payload, _ := json.Marshal(map[string]any{
		"msg_type":      msgType,
		"parent_header": map[string]any{"msg_id": parentID},
		"content":       content,
	})
	return payload
}

func idleFrame(parentID string) []byte {
	return protocolFrame("status", parentID, map[string]any{"execution_state": "idle"})
}

func streamFrame(parentID, name, text string) []byte {
	return protocolFrame("stream", parentID, map[string]any{"name": name, "text": text})
}

// waitGone blocks until the daemon's registry entry disappears, which is
// the last step of cleanup. After it returns, every event of the run has
// been emitted.
func waitGone(t *testing.T, sup *Supervisor, daemonID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := sup.GetDaemon(daemonID)
		return !ok
	}, 5*time.Second, 10*time.Millisecond, "daemon %s never finished cleanup", daemonID)
}

// testStartRequest is a baseline start request; tests override what they
// exercise.
func testStartRequest(userID, chatID string, sink Sink) StartRequest {
	return StartRequest{
		BaseURL:   "http://gateway.test",
		Code:      "print('hi')",
		UserID:    userID,
		ChatID:    chatID,
		MessageID: "msg-1",
		Sink:      sink,
	}
}
