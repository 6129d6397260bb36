package earthbeat_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/denismitr/earthbeat"
	"github.com/denismitr/earthbeat/internal/about"
	"github.com/denismitr/earthbeat/internal/config"
	"github.com/denismitr/earthbeat/internal/feed"
	"github.com/denismitr/earthbeat/internal/presence"
	"github.com/denismitr/earthbeat/internal/storage"
	"github.com/denismitr/earthbeat/internal/store"
	"github.com/denismitr/earthbeat/internal/testutil"
)

const cooking = "+cooking.b4y"

type peerTestSuite struct {
	suite.Suite
	dir    string
	clock  *testutil.Clock
	peer   *earthbeat.Peer
	closer earthbeat.Closer
}

func (pts *peerTestSuite) config() *config.Config {
	cfg := config.NewConfig(pts.dir)
	cfg.Identity = testutil.Suzy
	cfg.Workspaces = []string{testutil.Workspace}
	return cfg
}

func (pts *peerTestSuite) open(cfg *config.Config) {
	p, closer, err := earthbeat.Open(cfg,
		earthbeat.WithClock(pts.clock),
		earthbeat.WithLogger(zaptest.NewLogger(pts.T())),
		earthbeat.WithoutHeartbeat(),
	)
	pts.Require().NoError(err)
	pts.peer = p
	pts.closer = closer
}

func (pts *peerTestSuite) reopen() {
	pts.Require().NoError(pts.closer())
	cfg := pts.config()
	cfg.Identity = ""
	cfg.Workspaces = nil
	pts.open(cfg)
}

func (pts *peerTestSuite) SetupTest() {
	pts.dir = pts.T().TempDir()
	pts.clock = testutil.NewClock(time.Second.Microseconds())
	pts.open(pts.config())
}

func (pts *peerTestSuite) TearDownTest() {
	if pts.closer == nil {
		return
	}

	err := pts.closer()
	if err != nil {
		pts.Assert().ErrorIs(err, earthbeat.ErrPeerClosed)
	}
}

func (pts *peerTestSuite) TestOpen_ConfiguredState() {
	pts.Assert().Equal(testutil.Suzy, pts.peer.Identity().Address)
	pts.Assert().Equal([]string{testutil.Workspace}, pts.peer.Workspaces())
	pts.Assert().Equal(testutil.Workspace, pts.peer.CurrentWorkspace())
}

func (pts *peerTestSuite) TestStatus_SurvivesRestart() {
	ctx := context.Background()

	_, err := pts.peer.SetStatus(testutil.Workspace, "hello")
	pts.Require().NoError(err)
	pts.clock.Advance(time.Second)
	_, err = pts.peer.SetStatus(testutil.Workspace, "hello again")
	pts.Require().NoError(err)
	_, err = pts.peer.SetDisplayName(testutil.Workspace, "Suzy")
	pts.Require().NoError(err)

	pts.reopen()

	pts.Assert().Equal(testutil.Suzy, pts.peer.Identity().Address, "identity is restored from settings")
	pts.Assert().Equal([]string{testutil.Workspace}, pts.peer.Workspaces())

	entries, err := pts.peer.Feed(ctx, testutil.Workspace)
	pts.Require().NoError(err)
	pts.Require().Len(entries, 1)
	pts.Assert().Equal("hello again", entries[0].Content)
	pts.Assert().Equal("Suzy", entries[0].DisplayName)
}

func (pts *peerTestSuite) TestWorkspacesAndSettings_SurviveRestart() {
	ctx := context.Background()

	pts.Require().NoError(pts.peer.AddWorkspace(ctx, cooking))
	pts.Require().NoError(pts.peer.AddWorkspace(ctx, cooking), "joining twice is a no-op")
	pts.Require().NoError(pts.peer.SetCurrentWorkspace(ctx, cooking))
	pts.Require().NoError(pts.peer.AddPub(ctx, cooking, "https://pub.example.com"))
	pts.Require().NoError(pts.peer.AddPub(ctx, cooking, "https://pub.example.com"))

	pts.reopen()

	pts.Assert().Equal([]string{cooking, testutil.Workspace}, pts.peer.Workspaces())
	pts.Assert().Equal(cooking, pts.peer.CurrentWorkspace())
	pts.Assert().Equal([]string{"https://pub.example.com"}, pts.peer.Pubs()[cooking])
}

func (pts *peerTestSuite) TestUnknownWorkspace() {
	ctx := context.Background()

	pts.Assert().ErrorIs(pts.peer.SetCurrentWorkspace(ctx, cooking), store.ErrUnknownWorkspace)
	pts.Assert().ErrorIs(pts.peer.AddPub(ctx, cooking, "https://pub.example.com"), store.ErrUnknownWorkspace)

	_, err := pts.peer.WatchFeed(cooking, func([]feed.Entry) {})
	pts.Assert().ErrorIs(err, store.ErrUnknownWorkspace)

	_, err = pts.peer.SetStatus(cooking, "hi")
	pts.Assert().ErrorIs(err, store.ErrUnknownWorkspace)
}

func (pts *peerTestSuite) TestPresence_FollowsHeartbeats() {
	ctx := context.Background()

	pts.Assert().Equal(presence.Unknown, pts.peer.Presence(testutil.Workspace, testutil.Suzy))

	n, err := pts.peer.Beat(ctx)
	pts.Require().NoError(err)
	pts.Assert().Equal(1, n)

	pts.clock.Advance(25 * time.Second)
	pts.Assert().Equal(presence.Online, pts.peer.Presence(testutil.Workspace, testutil.Suzy))

	pts.clock.Advance(6 * time.Second)
	pts.Assert().Equal(presence.Offline, pts.peer.Presence(testutil.Workspace, testutil.Suzy))

	n, err = pts.peer.Leave(ctx)
	pts.Require().NoError(err)
	pts.Assert().Equal(1, n)
	pts.Assert().Equal(presence.Silent, pts.peer.Presence(testutil.Workspace, testutil.Suzy))
}

func (pts *peerTestSuite) TestSetIdentity() {
	ctx := context.Background()

	err := pts.peer.SetIdentity(ctx, store.Identity{Address: "fred"})
	pts.Assert().ErrorIs(err, store.ErrInvalidIdentity)
	pts.Assert().Equal(testutil.Suzy, pts.peer.Identity().Address)

	pts.Require().NoError(pts.peer.SetIdentity(ctx, store.Identity{Address: testutil.Fred}))
	doc, err := pts.peer.SetStatus(testutil.Workspace, "fred here")
	pts.Require().NoError(err)
	pts.Assert().Equal(testutil.Fred, doc.Author)
	pts.Assert().Equal(about.StatusPath(testutil.Fred), doc.Path)

	pts.reopen()
	pts.Assert().Equal(testutil.Fred, pts.peer.Identity().Address)
}

func (pts *peerTestSuite) TestWatchFeed_StoppedOnClose() {
	var deliveries int
	_, err := pts.peer.WatchFeed(testutil.Workspace, func([]feed.Entry) {
		deliveries++
	})
	pts.Require().NoError(err)
	pts.Assert().Equal(1, deliveries)

	_, err = pts.peer.SetStatus(testutil.Workspace, "hi")
	pts.Require().NoError(err)
	pts.Assert().Equal(2, deliveries)

	pts.Require().NoError(pts.closer())
	pts.Assert().ErrorIs(pts.closer(), earthbeat.ErrPeerClosed)

	_, err = pts.peer.SetStatus(testutil.Workspace, "closed")
	pts.Assert().ErrorIs(err, earthbeat.ErrPeerClosed)
	pts.Assert().Equal(2, deliveries)
}

func (pts *peerTestSuite) TestWatchFeed_StoppedWatcherIsReleased() {
	w1, err := pts.peer.WatchFeed(testutil.Workspace, func([]feed.Entry) {})
	pts.Require().NoError(err)
	_, err = pts.peer.WatchFeed(testutil.Workspace, func([]feed.Entry) {})
	pts.Require().NoError(err)
	pts.Assert().Equal(2, pts.peer.WatcherCount())

	w1.Stop()

	pts.Assert().Eventually(func() bool {
		return pts.peer.WatcherCount() == 1
	}, time.Second, time.Millisecond)
}

func TestPeer(t *testing.T) {
	suite.Run(t, &peerTestSuite{})
}

func TestOpen_Failures(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, closer, err := earthbeat.Open(nil)
		require.Error(t, err)
		assert.NoError(t, closer())
	})

	t.Run("invalid configured workspace", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Workspaces = []string{"gardening"}

		_, _, err := earthbeat.Open(cfg, earthbeat.WithBackend(storage.NewMemoryBackend()))
		assert.ErrorIs(t, err, store.ErrInvalidWorkspace)
	})

	t.Run("invalid configured identity", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Identity = "suzy"

		_, _, err := earthbeat.Open(cfg, earthbeat.WithBackend(storage.NewMemoryBackend()))
		assert.ErrorIs(t, err, store.ErrInvalidIdentity)
	})

	t.Run("unknown storage type", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Storage.Type = "floppy"

		_, _, err := earthbeat.Open(cfg)
		assert.Error(t, err)
	})
}

func TestPeer_Heartbeat(t *testing.T) {
	cfg := config.NewConfig(t.TempDir())
	cfg.Identity = testutil.Suzy
	cfg.Workspaces = []string{testutil.Workspace}
	cfg.Heartbeat.Interval = config.Duration{Duration: 2 * time.Millisecond}

	backend := storage.NewMemoryBackend()
	p, closer, err := earthbeat.Open(cfg, earthbeat.WithBackend(backend))
	require.NoError(t, err)
	defer func() { _ = closer() }()

	doc, ok := p.Store().Get(testutil.Workspace, testutil.Suzy, about.LastOnlinePath(testutil.Suzy))
	require.True(t, ok, "a heartbeat is written as soon as the peer opens")
	assert.Equal(t, about.HeartbeatPresent, doc.Content)
	assert.Equal(t, presence.Online, p.Presence(testutil.Workspace, testutil.Suzy))

	puts := backend.Puts()
	assert.Eventually(t, func() bool {
		return backend.Puts() > puts
	}, time.Second, time.Millisecond, "every heartbeat is flushed")
}

func TestComposer(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(1)

	cfg := config.NewConfig(t.TempDir())
	cfg.Workspaces = []string{testutil.Workspace}

	p, closer, err := earthbeat.Open(cfg,
		earthbeat.WithBackend(storage.NewMemoryBackend()),
		earthbeat.WithClock(clock),
		earthbeat.WithoutHeartbeat(),
	)
	require.NoError(t, err)
	defer func() { _ = closer() }()

	c := p.Composer()
	assert.Equal(t, testutil.Workspace, c.Workspace())
	c.Edit("hello")

	_, err = c.Submit()
	assert.ErrorIs(t, err, earthbeat.ErrNoIdentity)
	assert.Equal(t, "hello", c.Draft())

	require.NoError(t, p.SetIdentity(ctx, store.Identity{Address: testutil.Suzy}))

	t.Run("rejected status keeps the draft", func(t *testing.T) {
		tooLong := make([]byte, store.DefaultMaxContentBytes+1)
		for i := range tooLong {
			tooLong[i] = 'a'
		}
		c.Edit(string(tooLong))

		_, err := c.Submit()
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrWriteRejected))
		assert.Equal(t, string(tooLong), c.Draft())
	})

	t.Run("accepted status clears the draft", func(t *testing.T) {
		c.Edit("hello")

		doc, err := c.Submit()
		require.NoError(t, err)
		assert.Equal(t, "hello", doc.Content)
		assert.Equal(t, "", c.Draft())

		entries, err := p.Feed(ctx, testutil.Workspace)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "hello", entries[0].Content)
	})

	t.Run("no workspace", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Identity = testutil.Suzy

		p, closer, err := earthbeat.Open(cfg,
			earthbeat.WithBackend(storage.NewMemoryBackend()),
			earthbeat.WithoutHeartbeat(),
		)
		require.NoError(t, err)
		defer func() { _ = closer() }()

		c := p.Composer()
		c.Edit("hello")
		_, err = c.Submit()
		assert.ErrorIs(t, err, earthbeat.ErrNoWorkspace)
		assert.ErrorIs(t, c.Select(cooking), store.ErrUnknownWorkspace)
	})
}
