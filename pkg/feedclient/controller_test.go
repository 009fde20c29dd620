package feedclient

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/fandomfeed/pkg/event"
)

// fakeFeedAPI はテスト用のFeedAPI。
type fakeFeedAPI struct {
	mu        sync.Mutex
	entries   []Entry
	feedErr   error
	flushErr  error
	feedCalls int
	hidden    [][]int64
	viewed    [][]int64
	flushCtx  []error
	// onMarkViewed はMarkViewedの処理中に呼ばれる。
	onMarkViewed func()
	// feedStarted が設定されている場合、Feedの開始時に通知する。
	feedStarted chan struct{}
	// feedRelease が設定されている場合、Feedはこのチャネルが閉じるまで戻らない。
	feedRelease chan struct{}
}

func (f *fakeFeedAPI) Feed(_ context.Context, isHidden *bool) ([]Entry, error) {
	if f.feedStarted != nil {
		f.feedStarted <- struct{}{}
	}
	if f.feedRelease != nil {
		<-f.feedRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedCalls++
	if isHidden == nil || *isHidden {
		return nil, errors.New("isHidden=falseで取得すべき")
	}
	if f.feedErr != nil {
		return nil, f.feedErr
	}
	return slices.Clone(f.entries), nil
}

func (f *fakeFeedAPI) Hide(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCtx = append(f.flushCtx, ctx.Err())
	if len(ids) > 0 {
		f.hidden = append(f.hidden, sortedClone(ids))
	}
	return f.flushErr
}

func (f *fakeFeedAPI) MarkViewed(ctx context.Context, ids []int64) error {
	if f.onMarkViewed != nil {
		f.onMarkViewed()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCtx = append(f.flushCtx, ctx.Err())
	if len(ids) > 0 {
		f.viewed = append(f.viewed, sortedClone(ids))
	}
	return f.flushErr
}

func (f *fakeFeedAPI) setEntries(entries []Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

func (f *fakeFeedAPI) setFeedErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedErr = err
}

func sortedClone(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// waitFlush はClosePanelの反映結果を待つ。
func waitFlush(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("パネルを閉じる際の反映が終わらなかった")
		return nil
	}
}

func unreadEntries() []Entry {
	return []Entry{
		{ID: 1, FandomID: 10, NotifierID: 100, Type: event.NotificationTypeContentPosted},
		{ID: 2, FandomID: 10, NotifierID: 101, Type: event.NotificationTypeContentPosted},
		{ID: 3, FandomID: 20, NotifierID: 200, Type: event.NotificationTypeEventScheduled, IsViewed: true},
	}
}

// TestStateString はStateの文字列表現を検証する。
func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "Idle"},
		{StateLoading, "Loading"},
		{StateLoaded, "Loaded"},
		{StateError, "Error"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

// TestControllerRefresh はフィード取得と未読表示を検証する。
func TestControllerRefresh(t *testing.T) {
	t.Parallel()

	t.Run("未読のエントリがあれば未読表示が立つこと", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{entries: unreadEntries()})
		if c.State() != StateIdle {
			t.Fatalf("初期状態 = %v, want Idle", c.State())
		}
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}
		if c.State() != StateLoaded {
			t.Errorf("State() = %v, want Loaded", c.State())
		}
		if !c.Unread() {
			t.Error("未読表示が立つべき")
		}
		if n := len(c.Snapshot().Entries); n != 3 {
			t.Errorf("エントリ数 = %d, want 3", n)
		}
	})

	t.Run("すべて既読なら未読表示が消えること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: []Entry{{ID: 1, IsViewed: true}}}
		c := NewController(api)
		c.HandlePush(context.Background())
		if c.Unread() {
			t.Error("再取得ですべて既読なら未読表示は消えるべき")
		}
	})

	t.Run("取得に失敗しても未読表示は変わらないこと", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries()}
		c := NewController(api)
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}

		api.setFeedErr(errors.New("接続できません"))
		if err := c.Refresh(context.Background()); err == nil {
			t.Fatal("Refresh()はエラーを返すべき")
		}
		snap := c.Snapshot()
		if snap.State != StateError {
			t.Errorf("State = %v, want Error", snap.State)
		}
		if snap.Err == nil {
			t.Error("Errが設定されるべき")
		}
		if !snap.Unread {
			t.Error("取得失敗で未読表示が変わるべきではない")
		}
	})

	t.Run("初回の取得失敗では未読表示は立たないこと", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{feedErr: errors.New("接続できません")})
		_ = c.Refresh(context.Background())
		if c.Unread() {
			t.Error("未読表示は立つべきではない")
		}
	})
}

// TestControllerPush はプッシュ受信時の動作を検証する。
func TestControllerPush(t *testing.T) {
	t.Parallel()

	t.Run("プッシュ受信で未読表示が立ち再取得されること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries()}
		c := NewController(api)
		c.HandlePush(context.Background())
		if !c.Unread() {
			t.Error("未読表示が立つべき")
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if api.feedCalls != 1 {
			t.Errorf("Feed呼び出し回数 = %d, want 1", api.feedCalls)
		}
	})

	t.Run("再取得に失敗しても楽観的な未読表示は残ること", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{feedErr: errors.New("接続できません")})
		c.HandlePush(context.Background())
		if !c.Unread() {
			t.Error("未読表示が立つべき")
		}
	})

	t.Run("パネルが閉じている間の再取得失敗は状態を変えないこと", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{feedErr: errors.New("down")})
		c.HandlePush(context.Background())
		snap := c.Snapshot()
		if snap.State != StateIdle || snap.Err != nil {
			t.Errorf("閉じたパネルは Idle でエラーなしのままであるべき: state=%v err=%v", snap.State, snap.Err)
		}
		if !snap.Unread {
			t.Error("未読表示は残るべき")
		}
	})

	t.Run("パネルが閉じている間の再取得は未読表示だけを更新すること", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{entries: unreadEntries()})
		c.HandlePush(context.Background())
		snap := c.Snapshot()
		if snap.State != StateIdle {
			t.Errorf("State = %v, want Idle", snap.State)
		}
		if len(snap.Entries) != 0 {
			t.Errorf("閉じたパネルのエントリは更新されるべきではない: %+v", snap.Entries)
		}
		if !snap.Unread {
			t.Error("未読表示が立つべき")
		}
	})

	t.Run("RunはNotificationCreatedイベントだけを処理すること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries()}
		c := NewController(api)
		events := make(chan event.Event, 2)
		events <- event.Event{Type: "Other"}
		events <- event.Event{Type: event.TypeNotificationCreated}
		close(events)

		if err := c.Run(context.Background(), events); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if !c.Unread() {
			t.Error("未読表示が立つべき")
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if api.feedCalls != 1 {
			t.Errorf("Feed呼び出し回数 = %d, want 1", api.feedCalls)
		}
	})

	t.Run("ctxのキャンセルでRunが戻ること", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewController(&fakeFeedAPI{}).Run(ctx, make(chan event.Event))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})
}

// TestControllerPanel はパネルの開閉と反映を検証する。
func TestControllerPanel(t *testing.T) {
	t.Parallel()

	t.Run("閉じると非表示待ちをHideし残りの未読をMarkViewedすること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries()}
		c := NewController(api)
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}
		if !c.Hide(1) {
			t.Fatal("パネルを開いている間はHideできるべき")
		}
		snap := c.Snapshot()
		if len(snap.Entries) != 2 || snap.Entries[0].ID != 2 {
			t.Errorf("非表示待ちのエントリは表示から除かれるべき: %+v", snap.Entries)
		}

		if err := waitFlush(t, c.ClosePanel(context.Background())); err != nil {
			t.Fatalf("反映でエラーが発生: %v", err)
		}
		if c.State() != StateIdle {
			t.Errorf("State() = %v, want Idle", c.State())
		}

		api.mu.Lock()
		defer api.mu.Unlock()
		if len(api.hidden) != 1 || !slices.Equal(api.hidden[0], []int64{1}) {
			t.Errorf("Hide = %v, want [[1]]", api.hidden)
		}
		if len(api.viewed) != 1 || !slices.Equal(api.viewed[0], []int64{2}) {
			t.Errorf("MarkViewed = %v, want [[2]]", api.viewed)
		}
		if c.Unread() {
			t.Error("反映後は未読表示が消えるべき")
		}
	})

	t.Run("閉じた後に届いた取得結果はパネルの状態を変えないこと", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{
			feedErr:     errors.New("boom"),
			feedStarted: make(chan struct{}, 1),
			feedRelease: make(chan struct{}),
		}
		c := NewController(api)
		opened := make(chan error, 1)
		go func() { opened <- c.OpenPanel(context.Background()) }()

		select {
		case <-api.feedStarted:
		case <-time.After(5 * time.Second):
			t.Fatal("フィードの取得が始まらなかった")
		}
		if err := waitFlush(t, c.ClosePanel(context.Background())); err != nil {
			t.Fatalf("反映でエラーが発生: %v", err)
		}
		close(api.feedRelease)

		select {
		case <-opened:
		case <-time.After(5 * time.Second):
			t.Fatal("OpenPanel()が戻らなかった")
		}
		snap := c.Snapshot()
		if snap.State != StateIdle || snap.Err != nil {
			t.Errorf("閉じた後は Idle でエラーなしのままであるべき: state=%v err=%v", snap.State, snap.Err)
		}
		if snap.Unread {
			t.Error("未読表示は立つべきではない")
		}
	})

	t.Run("閉じたパネルではHideできないこと", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{entries: unreadEntries()})
		if c.Hide(1) {
			t.Error("パネルが閉じている間はHideできないべき")
		}
	})

	t.Run("呼び出し元のctxがキャンセルされても反映されること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries()}
		c := NewController(api)
		ctx, cancel := context.WithCancel(context.Background())
		if err := c.OpenPanel(ctx); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}
		done := c.ClosePanel(ctx)
		cancel()
		if err := waitFlush(t, done); err != nil {
			t.Fatalf("反映でエラーが発生: %v", err)
		}

		api.mu.Lock()
		defer api.mu.Unlock()
		for _, err := range api.flushCtx {
			if err != nil {
				t.Errorf("反映時のctxがキャンセルされている: %v", err)
			}
		}
		if len(api.viewed) != 1 {
			t.Errorf("MarkViewed = %v, want 1回", api.viewed)
		}
	})

	t.Run("反映に失敗した場合は未読表示が残ること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries(), flushErr: errors.New("保存できません")}
		c := NewController(api)
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}
		if err := waitFlush(t, c.ClosePanel(context.Background())); err == nil {
			t.Fatal("反映はエラーを返すべき")
		}
		if !c.Unread() {
			t.Error("反映に失敗した場合は未読表示が残るべき")
		}
	})

	t.Run("反映中にプッシュが届いた場合は未読表示が残ること", func(t *testing.T) {
		t.Parallel()

		api := &fakeFeedAPI{entries: unreadEntries()}
		c := NewController(api)
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}
		api.onMarkViewed = func() {
			api.setEntries(append(unreadEntries(), Entry{ID: 4, FandomID: 10, NotifierID: 102}))
			c.HandlePush(context.Background())
		}
		if err := waitFlush(t, c.ClosePanel(context.Background())); err != nil {
			t.Fatalf("反映でエラーが発生: %v", err)
		}
		if !c.Unread() {
			t.Error("反映中に届いたプッシュの未読表示は消えるべきではない")
		}
	})

	t.Run("パネルを開いている間の取得失敗はパネル内に留まること", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{feedErr: errors.New("接続できません")})
		if err := c.OpenPanel(context.Background()); err == nil {
			t.Fatal("OpenPanel()はエラーを返すべき")
		}
		if c.State() != StateError {
			t.Errorf("State() = %v, want Error", c.State())
		}
		if err := waitFlush(t, c.ClosePanel(context.Background())); err != nil {
			t.Fatalf("反映でエラーが発生: %v", err)
		}
		snap := c.Snapshot()
		if snap.State != StateIdle || snap.Err != nil {
			t.Errorf("閉じた後は Idle でエラーなしになるべき: %+v", snap)
		}
	})
}

// TestControllerEnrichment はパネルを開いたときの表示用情報の取得を検証する。
func TestControllerEnrichment(t *testing.T) {
	t.Parallel()

	t.Run("パネルを開くと表示用情報が取得されること", func(t *testing.T) {
		t.Parallel()

		c := NewController(&fakeFeedAPI{entries: unreadEntries()}, WithEnricher(NewEnricher(newFakeDirectory())))
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for {
			d, ok := c.Snapshot().Details[3]
			if ok {
				if d.FandomName != "ファンダムB" || d.Title != "イベントタイトル" {
					t.Errorf("Details[3] = %+v", d)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("表示用情報が取得されなかった")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("パネルを閉じると取得中の表示用情報はキャンセルされること", func(t *testing.T) {
		t.Parallel()

		dir := newFakeDirectory()
		dir.blockOn = "fandoms"
		c := NewController(&fakeFeedAPI{entries: unreadEntries()}, WithEnricher(NewEnricher(dir)))
		if err := c.OpenPanel(context.Background()); err != nil {
			t.Fatalf("OpenPanel()でエラーが発生: %v", err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for len(dir.callsFor("fandoms")) == 0 {
			if time.Now().After(deadline) {
				t.Fatal("表示用情報の取得が始まらなかった")
			}
			time.Sleep(10 * time.Millisecond)
		}

		if err := waitFlush(t, c.ClosePanel(context.Background())); err != nil {
			t.Fatalf("反映でエラーが発生: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if n := len(c.Snapshot().Details); n != 0 {
			t.Errorf("キャンセル後に表示用情報が設定された: %d件", n)
		}
	})
}
