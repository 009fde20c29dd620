package notification

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// t0 はテストの基準時刻（ユーザーの購読開始日時）。
var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

// fakeSubscriptionIndex はメモリ上の購読情報を返すSubscriptionIndex。
type fakeSubscriptionIndex struct {
	mu    sync.Mutex
	users map[int64][]Subscription
	// err が設定されている場合、すべての呼び出しでこのエラーを返す。
	err error
}

func newFakeSubscriptionIndex() *fakeSubscriptionIndex {
	return &fakeSubscriptionIndex{users: make(map[int64][]Subscription)}
}

// subscribe はユーザーを登録し、ファンダムの購読を追加する。
func (f *fakeSubscriptionIndex) subscribe(userID, fandomID int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = append(f.users[userID], Subscription{FandomID: fandomID, SubscribedAt: at})
}

// addUser は購読の無いユーザーを登録する。
func (f *fakeSubscriptionIndex) addUser(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = []Subscription{}
	}
}

func (f *fakeSubscriptionIndex) SubscriptionsByUserID(_ context.Context, userID int64) ([]Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	subs, ok := f.users[userID]
	if !ok {
		return nil, notFound(ResourceUser, userID)
	}
	return append([]Subscription(nil), subs...), nil
}

// SubscribersByFandomID はファンダムを購読しているユーザーを返す。
// ファンダムIDが1000以上の場合は存在しないものとして扱う。
func (f *fakeSubscriptionIndex) SubscribersByFandomID(_ context.Context, fandomID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if fandomID >= 1000 {
		return nil, notFound(ResourceFandom, fandomID)
	}
	var ids []int64
	for userID, subs := range f.users {
		for _, s := range subs {
			if s.FandomID == fandomID {
				ids = append(ids, userID)
				break
			}
		}
	}
	return ids, nil
}

// pushCall はPushToUsersの1回の呼び出し。
type pushCall struct {
	userIDs []int64
	payload []byte
}

// recordingPusher はPushToUsersの呼び出しを記録するPusher。
type recordingPusher struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *recordingPusher) PushToUsers(userIDs []int64, payload []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{userIDs: append([]int64(nil), userIDs...), payload: payload})
	return len(userIDs)
}

func (p *recordingPusher) recorded() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

// testClock はテストから進められる時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// newTestDB はマイグレーション適用済みのインメモリDBを生成する。
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := OpenDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

// fixture はコーディネーターのテストに必要な依存一式。
type fixture struct {
	db     *sql.DB
	subs   *fakeSubscriptionIndex
	pusher *recordingPusher
	clock  *testClock
	fanout *FanoutCoordinator
	viewed *ViewedStateCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDB(t, newTestDB(t))
}

// newFileTestDB はt.TempDir()上のファイルDBを本番と同じ設定で開く。
func newFileTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := OpenDB(t.Context(), filepath.Join(t.TempDir(), "notification.db"))
	if err != nil {
		t.Fatalf("ファイルDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func newFixtureWithDB(t *testing.T, sqlDB *sql.DB) *fixture {
	t.Helper()
	f := &fixture{
		db:     sqlDB,
		subs:   newFakeSubscriptionIndex(),
		pusher: &recordingPusher{},
		clock:  newTestClock(t0),
	}
	f.fanout = NewFanoutCoordinator(f.db, f.subs, f.pusher, WithClock(f.clock.Now))
	f.viewed = NewViewedStateCoordinator(f.db, f.subs, WithClock(f.clock.Now))
	return f
}

// createAt は指定時刻に通知を作成する。
func (f *fixture) createAt(t *testing.T, at time.Time, fandomID, notifierID int64) Notification {
	t.Helper()
	f.clock.Set(at)
	n, err := f.fanout.Create(t.Context(), fandomID, notifierID, "ContentPosted")
	if err != nil {
		t.Fatalf("Create()でエラーが発生: %v", err)
	}
	return n
}

// feedIDs はフィードの通知IDを順番に返す。
func feedIDs(entries []FeedEntry) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func boolPtr(v bool) *bool { return &v }
