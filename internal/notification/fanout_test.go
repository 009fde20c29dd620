package notification

import (
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	notificationdb "github.com/nao1215/fandomfeed/internal/notification/db"
	"github.com/nao1215/fandomfeed/pkg/event"
)

// TestFanoutCoordinator_Create は通知の作成と配信を検証する。
func TestFanoutCoordinator_Create(t *testing.T) {
	t.Parallel()

	t.Run("作成時点の購読者だけに配信されること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.subs.subscribe(1, 10, t0)
		f.subs.subscribe(2, 10, t0)
		f.subs.subscribe(3, 20, t0)

		n := f.createAt(t, t0.Add(time.Second), 10, 77)

		calls := f.pusher.recorded()
		if len(calls) != 1 {
			t.Fatalf("PushToUsersの呼び出し回数 = %d, want 1", len(calls))
		}
		got := slices.Clone(calls[0].userIDs)
		slices.Sort(got)
		if !slices.Equal(got, []int64{1, 2}) {
			t.Errorf("配信先 = %v, want [1 2]", got)
		}

		e, err := event.Decode(calls[0].payload)
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		if e.Type != event.TypeNotificationCreated {
			t.Errorf("イベント種別 = %q", e.Type)
		}
		data, err := event.DecodeData[event.NotificationCreatedData](e)
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if data.ID != n.ID || data.FandomID != 10 || data.NotifierID != 77 || !data.CreatedAt.Equal(n.CreatedAt) || data.Type != event.NotificationTypeContentPosted {
			t.Errorf("イベントデータ = %+v, want 通知 %+v", data, n)
		}
	})

	t.Run("作成日時はミリ秒に丸めたUTCで保存されること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.subs.subscribe(1, 10, t0)
		local := time.Date(2026, 1, 10, 21, 0, 1, 123456789, time.FixedZone("JST", 9*60*60))
		n := f.createAt(t, local, 10, 1)

		want := local.UTC().Truncate(time.Millisecond)
		if !n.CreatedAt.Equal(want) || n.CreatedAt.Location() != time.UTC {
			t.Errorf("CreatedAt = %v, want %v", n.CreatedAt, want)
		}
		row, err := notificationdb.New(f.db).GetNotificationByID(t.Context(), n.ID)
		if err != nil {
			t.Fatalf("通知の取得に失敗: %v", err)
		}
		if row.CreatedAt != want.UnixMilli() {
			t.Errorf("保存値 = %d, want %d", row.CreatedAt, want.UnixMilli())
		}
	})

	t.Run("購読者がいない場合は配信しないが保存は成功すること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		n := f.createAt(t, t0, 10, 1)
		if n.ID == 0 {
			t.Fatal("通知IDが採番されていない")
		}
		if calls := f.pusher.recorded(); len(calls) != 0 {
			t.Errorf("PushToUsersの呼び出し回数 = %d, want 0", len(calls))
		}
	})

	t.Run("存在しないファンダムはNotFoundとなり保存されないこと", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.fanout.Create(t.Context(), 1000, 1, event.NotificationTypeEventScheduled)
		var nf *NotFoundError
		if !errors.As(err, &nf) || nf.Resource != ResourceFandom {
			t.Fatalf("Create() error = %v, want fandom NotFoundError", err)
		}
		ids, err := notificationdb.New(f.db).ListNotificationIDsByNotifier(t.Context(), notificationdb.ListNotificationIDsByNotifierParams{
			Type:       string(event.NotificationTypeEventScheduled),
			NotifierID: 1,
		})
		if err != nil {
			t.Fatalf("通知IDの取得に失敗: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("保存された通知 = %v, want なし", ids)
		}
	})

	t.Run("Pusherがnilでも作成できること", func(t *testing.T) {
		t.Parallel()

		sqlDB := newTestDB(t)
		subs := newFakeSubscriptionIndex()
		subs.subscribe(1, 10, t0)
		fanout := NewFanoutCoordinator(sqlDB, subs, nil)
		if _, err := fanout.Create(t.Context(), 10, 1, event.NotificationTypeContentPosted); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
	})
}

// TestFanoutCoordinator_Delete は通知削除時の既読状態の連鎖削除を検証する。
func TestFanoutCoordinator_Delete(t *testing.T) {
	t.Parallel()

	t.Run("通知を削除すると参照する既読状態もすべて削除されること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.subs.subscribe(1, 10, t0)
		f.subs.subscribe(2, 10, t0)
		n := f.createAt(t, t0.Add(time.Second), 10, 1)
		keep := f.createAt(t, t0.Add(time.Second), 10, 2)
		if err := f.viewed.MarkViewed(t.Context(), 1, []int64{n.ID, keep.ID}); err != nil {
			t.Fatalf("MarkViewed()でエラーが発生: %v", err)
		}
		if err := f.viewed.Hide(t.Context(), 2, []int64{n.ID}); err != nil {
			t.Fatalf("Hide()でエラーが発生: %v", err)
		}

		if err := f.fanout.Delete(t.Context(), n.ID); err != nil {
			t.Fatalf("Delete()でエラーが発生: %v", err)
		}

		q := notificationdb.New(f.db)
		orphans, err := q.ListViewedStateIDsByNotificationIDs(t.Context(), []int64{n.ID})
		if err != nil {
			t.Fatalf("状態行の取得に失敗: %v", err)
		}
		if len(orphans) != 0 {
			t.Errorf("削除した通知を参照する状態行 = %v, want なし", orphans)
		}
		if _, err := q.GetNotificationByID(t.Context(), n.ID); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("GetNotificationByID() error = %v, want sql.ErrNoRows", err)
		}
		kept, err := q.ListViewedStateIDsByNotificationIDs(t.Context(), []int64{keep.ID})
		if err != nil {
			t.Fatalf("状態行の取得に失敗: %v", err)
		}
		if len(kept) != 1 {
			t.Errorf("他の通知の状態行 = %v, want 1件", kept)
		}
	})

	t.Run("存在しない通知の削除はNotFoundになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		if err := f.fanout.Delete(t.Context(), 12345); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})
}

// TestFanoutCoordinator_DeleteByNotifier は発生源単位の削除を検証する。
func TestFanoutCoordinator_DeleteByNotifier(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.subs.subscribe(1, 10, t0)
	f.subs.subscribe(1, 11, t0)
	first := f.createAt(t, t0.Add(time.Second), 10, 5)
	second := f.createAt(t, t0.Add(2*time.Second), 11, 5)
	f.clock.Set(t0.Add(3 * time.Second))
	other, err := f.fanout.Create(t.Context(), 10, 5, event.NotificationTypeEventScheduled)
	if err != nil {
		t.Fatalf("Create()でエラーが発生: %v", err)
	}
	if err := f.viewed.MarkViewed(t.Context(), 1, []int64{first.ID, second.ID, other.ID}); err != nil {
		t.Fatalf("MarkViewed()でエラーが発生: %v", err)
	}

	deleted, err := f.fanout.DeleteByNotifier(t.Context(), event.NotificationTypeContentPosted, 5)
	if err != nil {
		t.Fatalf("DeleteByNotifier()でエラーが発生: %v", err)
	}
	if deleted != 2 {
		t.Errorf("削除件数 = %d, want 2", deleted)
	}

	entries, err := f.viewed.GetFeed(t.Context(), 1, nil)
	if err != nil {
		t.Fatalf("GetFeed()でエラーが発生: %v", err)
	}
	if got := feedIDs(entries); !slices.Equal(got, []int64{other.ID}) {
		t.Errorf("フィード = %v, want [%d]", got, other.ID)
	}
	orphans, err := notificationdb.New(f.db).ListViewedStateIDsByNotificationIDs(t.Context(), []int64{first.ID, second.ID})
	if err != nil {
		t.Fatalf("状態行の取得に失敗: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("孤立した状態行 = %v, want なし", orphans)
	}

	again, err := f.fanout.DeleteByNotifier(t.Context(), event.NotificationTypeContentPosted, 5)
	if err != nil {
		t.Fatalf("2回目のDeleteByNotifier()でエラーが発生: %v", err)
	}
	if again != 0 {
		t.Errorf("2回目の削除件数 = %d, want 0", again)
	}
}
