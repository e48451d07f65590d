package api

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter records frames and can be told to fail writes
type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeWriter) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeWriter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func sid(id int64) *int64 { return &id }

func TestRegisterAndUnregister(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	c1 := NewConn(&fakeWriter{}, 1, sid(10))
	c2 := NewConn(&fakeWriter{}, 1, sid(10))
	c3 := NewConn(&fakeWriter{}, 1, nil)

	r.Register(c1)
	r.Register(c1) // idempotent
	r.Register(c2)
	r.Register(c3)

	assert.Equal(t, 3, r.ConnectionCount(1))
	assert.Equal(t, 2, r.SessionConnectionCount(1, 10))

	r.Unregister(c1)
	r.Unregister(c1) // safe to repeat
	assert.Equal(t, 2, r.ConnectionCount(1))
	assert.Equal(t, 1, r.SessionConnectionCount(1, 10))

	r.Unregister(c2)
	r.Unregister(c3)
	assert.Equal(t, 0, r.ConnectionCount(1))
	assert.Equal(t, 0, r.SessionConnectionCount(1, 10))
}

func TestSendToUserReachesAllConnections(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	w1, w2, w3 := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	r.Register(NewConn(w1, 1, nil))
	r.Register(NewConn(w2, 1, sid(5)))
	r.Register(NewConn(w3, 2, nil))

	r.SendToUser(1, []byte("hello"))

	assert.Equal(t, 1, w1.frameCount())
	assert.Equal(t, 1, w2.frameCount())
	assert.Equal(t, 0, w3.frameCount())
}

func TestSendToSessionIsScopedToUserAndSession(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	bound := &fakeWriter{}
	unbound := &fakeWriter{}
	otherSession := &fakeWriter{}
	r.Register(NewConn(bound, 1, sid(10)))
	r.Register(NewConn(unbound, 1, nil))
	r.Register(NewConn(otherSession, 1, sid(11)))

	r.SendToSession(1, 10, []byte("scoped"))

	assert.Equal(t, 1, bound.frameCount())
	assert.Equal(t, 0, unbound.frameCount())
	assert.Equal(t, 0, otherSession.frameCount())
}

func TestSendToSessionAllReachesEveryParticipant(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	alice := &fakeWriter{}
	bob := &fakeWriter{}
	outsider := &fakeWriter{}
	r.Register(NewConn(alice, 1, sid(10)))
	r.Register(NewConn(bob, 2, sid(10)))
	r.Register(NewConn(outsider, 3, sid(99)))

	r.SendToSessionAll(10, []byte("broadcast"))

	assert.Equal(t, 1, alice.frameCount())
	assert.Equal(t, 1, bob.frameCount())
	assert.Equal(t, 0, outsider.frameCount())
}

func TestBroadcastPrunesFailedConnections(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	healthy := &fakeWriter{}
	dead1 := &fakeWriter{}
	dead2 := &fakeWriter{}
	dead1.setFail(true)
	dead2.setFail(true)

	r.Register(NewConn(healthy, 1, sid(10)))
	r.Register(NewConn(dead1, 2, sid(10)))
	r.Register(NewConn(dead2, 2, sid(10)))

	r.SendToSessionAll(10, []byte("first"))

	// healthy connection got the frame, dead ones were pruned and closed
	assert.Equal(t, 1, healthy.frameCount())
	assert.True(t, dead1.isClosed())
	assert.True(t, dead2.isClosed())
	assert.Equal(t, 0, r.ConnectionCount(2))
	assert.Equal(t, 1, r.ConnectionCount(1))

	// a second broadcast only targets the survivor
	r.SendToSessionAll(10, []byte("second"))
	assert.Equal(t, 2, healthy.frameCount())
}

func TestSendToConnectionReturnsWriteError(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	w := &fakeWriter{}
	c := NewConn(w, 1, nil)
	require.NoError(t, r.SendToConnection(c, []byte("ok")))

	w.setFail(true)
	assert.Error(t, r.SendToConnection(c, []byte("fails")))
}

func TestCloseAll(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	writers := []*fakeWriter{{}, {}, {}}
	for i, w := range writers {
		r.Register(NewConn(w, int64(i+1), sid(10)))
	}

	r.CloseAll()

	for _, w := range writers {
		assert.True(t, w.isClosed())
	}
	for i := range writers {
		assert.Equal(t, 0, r.ConnectionCount(int64(i+1)))
	}
}

func TestConcurrentRegisterBroadcastUnregister(t *testing.T) {
	r := NewConnectionRegistry(time.Second)

	const users = 8
	const connsPerUser = 4

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		for i := 0; i < connsPerUser; i++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				c := NewConn(&fakeWriter{}, userID, sid(7))
				r.Register(c)
				r.SendToSessionAll(7, []byte("ping"))
				r.SendToUser(userID, []byte("direct"))
				r.Unregister(c)
			}(u)
		}
	}
	wg.Wait()

	for u := int64(1); u <= users; u++ {
		assert.Equal(t, 0, r.ConnectionCount(u))
		assert.Equal(t, 0, r.SessionConnectionCount(u, 7))
	}
}
