package message

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/taskhub/chat-service/internal/auth"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Message{}, &User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	users := []User{
		{ID: 1, Username: "amina", Role: "admin"},
		{ID: 5, Username: "sami", Role: "student"},
		{ID: 9, Username: "lina", Role: "student"},
	}
	require.NoError(t, db.Create(&users).Error)
	return db
}

type fakeCache struct {
	values      map[int64]int64
	invalidated []int64
	sets        []int64
}

func newFakeCache() *fakeCache { return &fakeCache{values: map[int64]int64{}} }

func (c *fakeCache) Get(_ context.Context, userID int64) (int64, bool, error) {
	n, ok := c.values[userID]
	return n, ok, nil
}

func (c *fakeCache) Set(_ context.Context, userID int64, n int64) error {
	c.values[userID] = n
	c.sets = append(c.sets, userID)
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID int64) error {
	delete(c.values, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fakePublisher struct {
	published []int64
}

func (p *fakePublisher) PublishMessageCreated(_ context.Context, id int64) error {
	p.published = append(p.published, id)
	return nil
}

func newTestService(t *testing.T, maxContent int) (*Service, *Repo, *fakeCache, *fakePublisher) {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	cache := newFakeCache()
	pub := &fakePublisher{}
	return NewService(repo, cache, pub, maxContent, nil), repo, cache, pub
}

var (
	sami = auth.Identity{ID: 5, Role: auth.RoleStudent}
	lina = auth.Identity{ID: 9, Role: auth.RoleStudent}
)

func TestSendPersistsCanonicalRow(t *testing.T) {
	svc, repo, cache, pub := newTestService(t, 0)
	before := time.Now().Add(-time.Second)

	m, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: "  hi  "})
	require.NoError(t, err)

	require.Greater(t, m.ID, int64(0))
	require.Equal(t, "hi", m.Content)
	require.Equal(t, int64(5), m.SenderID)
	require.Equal(t, int64(9), m.ReceiverID)
	require.False(t, m.IsRead)
	require.False(t, m.CreatedAt.Before(before))
	require.Equal(t, "sami", m.SenderName)
	require.Equal(t, "lina", m.ReceiverName)

	stored, err := repo.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, "hi", stored.Content)

	require.Equal(t, []int64{9}, cache.invalidated)
	require.Equal(t, []int64{m.ID}, pub.published)
}

func TestSendAssignsDistinctIDs(t *testing.T) {
	svc, _, _, _ := newTestService(t, 0)

	first, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: "one"})
	require.NoError(t, err)
	second, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: "two"})
	require.NoError(t, err)

	require.Greater(t, second.ID, first.ID)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	svc, repo, _, pub := newTestService(t, 0)

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: content})
		require.ErrorIs(t, err, ErrEmptyContent)
	}

	n, err := repo.UnreadCount(context.Background(), 9)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, pub.published)
}

func TestSendContentLengthBoundary(t *testing.T) {
	const max = 8
	svc, _, _, _ := newTestService(t, max)

	atLimit := strings.Repeat("a", max)
	m, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: atLimit})
	require.NoError(t, err)
	require.Equal(t, atLimit, m.Content)

	_, err = svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: atLimit + "a"})
	require.ErrorIs(t, err, ErrContentTooLong)

	// The bound counts runes, not bytes.
	multibyte := strings.Repeat("é", max)
	_, err = svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: multibyte})
	require.NoError(t, err)
}

func TestSendSenderMismatchNotPersisted(t *testing.T) {
	svc, repo, _, pub := newTestService(t, 0)

	_, err := svc.Send(context.Background(), sami, SendInput{SenderID: 6, ReceiverID: 9, Content: "hi"})
	require.ErrorIs(t, err, ErrSenderMismatch)

	msgs, err := repo.ListBetween(context.Background(), 6, 9)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, pub.published)
}

func TestSendUnknownReceiver(t *testing.T) {
	svc, _, _, pub := newTestService(t, 0)

	_, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9999, Content: "hi"})
	require.ErrorIs(t, err, ErrReceiverNotFound)
	require.Empty(t, pub.published)
}

func TestHistoryOrderedRoundTrip(t *testing.T) {
	svc, _, _, _ := newTestService(t, 0)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	_, err := svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 9, Content: contents[0]})
	require.NoError(t, err)
	_, err = svc.Send(ctx, lina, SendInput{SenderID: 9, ReceiverID: 5, Content: contents[1]})
	require.NoError(t, err)
	_, err = svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 9, Content: contents[2]})
	require.NoError(t, err)

	// unrelated pair, must not leak into (5,9)
	_, err = svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 1, Content: "aside"})
	require.NoError(t, err)

	hist, err := svc.History(ctx, sami, 9)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, m := range hist {
		require.Equal(t, contents[i], m.Content)
	}
	require.Equal(t, int64(5), hist[0].SenderID)
	require.Equal(t, int64(9), hist[1].SenderID)
	require.NotEmpty(t, hist[0].SenderName)

	// both participants see the same history
	histPeer, err := svc.History(ctx, lina, 5)
	require.NoError(t, err)
	require.Equal(t, len(hist), len(histPeer))
	for i := range hist {
		require.Equal(t, hist[i].ID, histPeer[i].ID)
	}
}

func TestMarkReadReceiverOnly(t *testing.T) {
	svc, _, cache, _ := newTestService(t, 0)
	ctx := context.Background()

	m, err := svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, sami, m.ID)
	require.ErrorIs(t, err, ErrNotReceiver)

	updated, err := svc.MarkRead(ctx, lina, m.ID)
	require.NoError(t, err)
	require.True(t, updated.IsRead)
	require.Contains(t, cache.invalidated, int64(9))

	// idempotent for the receiver
	again, err := svc.MarkRead(ctx, lina, m.ID)
	require.NoError(t, err)
	require.True(t, again.IsRead)

	_, err = svc.MarkRead(ctx, lina, 424242)
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkAllRead(t *testing.T) {
	svc, _, _, _ := newTestService(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 9, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	n, err := svc.MarkAllRead(ctx, lina, 5)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	unread, err := svc.UnreadCount(ctx, lina)
	require.NoError(t, err)
	require.Zero(t, unread)

	// nothing left to flip
	n, err = svc.MarkAllRead(ctx, lina, 5)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUnreadCountCaching(t *testing.T) {
	svc, _, cache, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err)

	n, err := svc.UnreadCount(ctx, lina)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Contains(t, cache.sets, int64(9))

	// a cache hit wins over the store
	cache.values[9] = 42
	n, err = svc.UnreadCount(ctx, lina)
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}

func TestThreadsOverview(t *testing.T) {
	svc, _, _, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Send(ctx, sami, SendInput{SenderID: 5, ReceiverID: 1, Content: "to admin"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, lina, SendInput{SenderID: 9, ReceiverID: 5, Content: "to sami"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, lina, SendInput{SenderID: 9, ReceiverID: 5, Content: "again"})
	require.NoError(t, err)

	threads, err := svc.Threads(ctx, sami)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	byUser := map[int64]Thread{}
	for _, th := range threads {
		byUser[th.User.ID] = th
	}
	require.Contains(t, byUser, int64(1))
	require.Contains(t, byUser, int64(9))

	require.Equal(t, int64(2), byUser[9].UnreadCount)
	require.NotNil(t, byUser[9].LastMessage)
	require.Equal(t, "again", byUser[9].LastMessage.Content)
	require.Zero(t, byUser[1].UnreadCount)
}

func TestServiceWithoutCacheOrPublisher(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil, nil, 0, nil)

	m, err := svc.Send(context.Background(), sami, SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	require.NoError(t, err)
	require.Greater(t, m.ID, int64(0))

	n, err := svc.UnreadCount(context.Background(), lina)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
