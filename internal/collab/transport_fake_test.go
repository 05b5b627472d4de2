package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storyforge/internal/models"

	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted connection for engine tests. Outbound envelopes are
// recorded; inbound ones are pushed by the test.
type fakeConn struct {
	mu      sync.Mutex
	sent    []*models.Envelope
	sendErr error

	events    chan *models.Envelope
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan *models.Envelope, 32)}
}

func (c *fakeConn) Send(env *models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Events() <-chan *models.Envelope { return c.events }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) sentEnvelopes() []*models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) push(t *testing.T, eventType models.EventType, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	c.events <- env
}

// fakeTransport hands out fakeConns and exposes them to the test as they
// are dialed.
type fakeTransport struct {
	mu      sync.Mutex
	dialErr error
	dialed  chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeConn, 8)}
}

func (f *fakeTransport) Dial(ctx context.Context, session *Session) (Conn, error) {
	f.mu.Lock()
	err := f.dialErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	f.dialed <- conn
	return conn, nil
}

func (f *fakeTransport) setDialErr(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

// waitConn blocks until the engine dials the next connection.
func (f *fakeTransport) waitConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-f.dialed:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("engine never dialed")
		return nil
	}
}

// startEngine spins up an engine over a fake transport with fast timings
// and waits for the first connection.
func startEngine(t *testing.T, opts ...Option) (*Engine, *fakeTransport, *fakeConn) {
	t.Helper()

	transport := newFakeTransport()
	base := []Option{
		WithBackoff(10*time.Millisecond, 50*time.Millisecond),
		WithSweepInterval(10 * time.Millisecond),
	}
	engine := NewEngine(transport, append(base, opts...)...)

	require.NoError(t, engine.Start(&Session{UserID: "u1", Username: "Ada"}))
	t.Cleanup(engine.Stop)

	conn := transport.waitConn(t)
	waitState(t, engine, StateConnected)
	return engine, transport, conn
}

func waitState(t *testing.T, e *Engine, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == want },
		2*time.Second, 5*time.Millisecond, "engine never reached state %s", want)
}

var errFakeDial = errors.New("dial refused")
