package ws

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
	dead     bool
	shutdown bool
}

func (f *fakeSender) TrySend(p []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return false
	}
	f.payloads = append(f.payloads, p)
	return true
}

func (f *fakeSender) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeSender) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSender) shutDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

func TestPushTargetsOnlyMatchingIdentity(t *testing.T) {
	r := NewRegistry()
	a1, a2, b, c := &fakeSender{}, &fakeSender{}, &fakeSender{}, &fakeSender{}

	r.Register(5, uuid.New(), a1)
	r.Register(5, uuid.New(), a2)
	r.Register(9, uuid.New(), b)
	r.Register(7, uuid.New(), c)

	require.Equal(t, 2, r.Push(5, []byte("x")))
	require.Equal(t, 1, r.Push(9, []byte("x")))

	require.Equal(t, 1, a1.received())
	require.Equal(t, 1, a2.received())
	require.Equal(t, 1, b.received())
	require.Zero(t, c.received())
}

func TestDeregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	key := uuid.New()
	r.Register(5, key, &fakeSender{})
	require.Equal(t, 1, r.Count(5))

	r.Deregister(5, key)
	require.Zero(t, r.Count(5))
	r.Deregister(5, key)
	require.Zero(t, r.Count(5))
}

func TestPushPrunesDeadConnections(t *testing.T) {
	r := NewRegistry()
	live, dead := &fakeSender{}, &fakeSender{dead: true}
	r.Register(5, uuid.New(), live)
	r.Register(5, uuid.New(), dead)
	require.Equal(t, 2, r.Count(5))

	require.Equal(t, 1, r.Push(5, []byte("x")))
	require.Equal(t, 1, r.Count(5))
	require.Equal(t, 1, r.Push(5, []byte("y")))
	require.Equal(t, 2, live.received())
}

func TestPushShutsDownPrunedConnections(t *testing.T) {
	r := NewRegistry()
	live, stuck := &fakeSender{}, &fakeSender{dead: true}
	r.Register(5, uuid.New(), live)
	r.Register(5, uuid.New(), stuck)

	require.Equal(t, 1, r.Push(5, []byte("x")))

	// The refused connection must not linger half-open: pruning also tears
	// it down so the client reconnects and resyncs.
	require.True(t, stuck.shutDown())
	require.False(t, live.shutDown())
	require.Equal(t, 1, r.Count(5))
}

func TestPushUnknownIdentity(t *testing.T) {
	r := NewRegistry()
	require.Zero(t, r.Push(404, []byte("x")))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			key := uuid.New()
			s := &fakeSender{}
			for j := 0; j < 100; j++ {
				r.Register(id%4, key, s)
				r.Push(id%4, []byte("x"))
				r.Deregister(id%4, key)
			}
		}(int64(i))
	}
	wg.Wait()
	for id := int64(0); id < 4; id++ {
		require.Zero(t, r.Count(id))
	}
}
