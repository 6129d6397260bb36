package heartbeat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/denismitr/earthbeat/internal/about"
	"github.com/denismitr/earthbeat/internal/heartbeat"
	"github.com/denismitr/earthbeat/internal/store"
	"github.com/denismitr/earthbeat/internal/testutil"
)

var (
	suzy = store.Identity{Address: testutil.Suzy}
	fred = store.Identity{Address: testutil.Fred}
)

func Test_Beat(t *testing.T) {
	ctx := context.Background()

	t.Run("no identity is a no-op", func(t *testing.T) {
		s := testutil.NewTestStore(t, testutil.NewClock(1), testutil.Workspace)
		p := heartbeat.NewPublisher(s)

		n, err := p.Beat(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, mustLen(t, s, testutil.Workspace))
	})

	t.Run("no workspaces is a no-op", func(t *testing.T) {
		s := testutil.NewTestStore(t, testutil.NewClock(1))
		p := heartbeat.NewPublisher(s)
		p.SetIdentity(suzy)

		n, err := p.Beat(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("one heartbeat per workspace with a fresh timestamp", func(t *testing.T) {
		clock := testutil.NewClock(1_000)
		s := testutil.NewTestStore(t, clock, testutil.Workspace, "+other.b2")
		p := heartbeat.NewPublisher(s, heartbeat.WithLogger(zaptest.NewLogger(t)))
		p.SetIdentity(suzy)

		n, err := p.Beat(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, w := range []string{testutil.Workspace, "+other.b2"} {
			doc, ok := s.Get(w, suzy.Address, about.LastOnlinePath(suzy.Address))
			require.True(t, ok, w)
			assert.Equal(t, about.HeartbeatPresent, doc.Content)
			assert.Equal(t, int64(1_000), doc.Timestamp)
		}

		clock.Set(21_000)
		_, err = p.Beat(ctx)
		require.NoError(t, err)
		doc, _ := s.Get(testutil.Workspace, suzy.Address, about.LastOnlinePath(suzy.Address))
		assert.Equal(t, int64(21_000), doc.Timestamp)
	})

	t.Run("leave publishes an empty heartbeat", func(t *testing.T) {
		s := testutil.NewTestStore(t, testutil.NewClock(1), testutil.Workspace)
		p := heartbeat.NewPublisher(s)
		p.SetIdentity(suzy)

		_, err := p.Beat(ctx)
		require.NoError(t, err)
		n, err := p.Leave(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		doc, ok := s.Get(testutil.Workspace, suzy.Address, about.LastOnlinePath(suzy.Address))
		require.True(t, ok)
		assert.True(t, doc.IsEmpty())
	})

	t.Run("rejected identity surfaces an error", func(t *testing.T) {
		s := testutil.NewTestStore(t, testutil.NewClock(1), testutil.Workspace)
		p := heartbeat.NewPublisher(s)
		p.SetIdentity(store.Identity{Address: "not-an-address"})

		n, err := p.Beat(ctx)
		assert.Error(t, err)
		assert.Equal(t, 0, n)
	})
}

func Test_StartStop(t *testing.T) {
	s := testutil.NewTestStore(t, testutil.NewClock(1), testutil.Workspace)

	var beats []store.Document
	events := make(chan store.Document, 64)
	cancel := s.Subscribe(func(ev store.Event) {
		select {
		case events <- ev.Document:
		default:
		}
	})
	defer cancel()

	p := heartbeat.NewPublisher(s, heartbeat.WithInterval(2*time.Millisecond))
	p.SetIdentity(suzy)
	p.Start()
	assert.True(t, p.Running())

	collect := func() {
		for {
			select {
			case d := <-events:
				beats = append(beats, d)
			default:
				return
			}
		}
	}

	assert.Eventually(t, func() bool {
		collect()
		return len(beats) >= 3
	}, time.Second, time.Millisecond)

	p.SetIdentity(fred)
	assert.True(t, p.Running(), "switching identity keeps the publisher running")

	assert.Eventually(t, func() bool {
		collect()
		return beats[len(beats)-1].Author == fred.Address
	}, time.Second, time.Millisecond)

	p.Stop()
	assert.False(t, p.Running())
	time.Sleep(10 * time.Millisecond)
	collect()
	stopped := len(beats)
	time.Sleep(10 * time.Millisecond)
	collect()
	assert.Equal(t, stopped, len(beats), "no heartbeats after stop")
}

func mustLen(t *testing.T, s *store.Store, w string) int {
	t.Helper()
	dm, err := s.Docs(w)
	require.NoError(t, err)
	return dm.Len()
}

func Test_ConcurrentStartStop(t *testing.T) {
	s := testutil.NewTestStore(t, testutil.NewClock(1), testutil.Workspace)
	p := heartbeat.NewPublisher(s, heartbeat.WithInterval(time.Millisecond))
	p.SetIdentity(suzy)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				switch (g + i) % 3 {
				case 0:
					p.Start()
				case 1:
					p.Stop()
				default:
					p.SetIdentity(suzy)
				}
			}
		}(g)
	}
	wg.Wait()
	p.Stop()
	require.False(t, p.Running())

	var mu sync.Mutex
	beats := 0
	cancel := s.Subscribe(func(store.Event) {
		mu.Lock()
		beats++
		mu.Unlock()
	})
	defer cancel()

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, beats, "no ticker outlives Stop")
}
