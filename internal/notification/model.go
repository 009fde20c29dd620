package notification

import (
	"slices"
	"time"

	notificationdb "github.com/nao1215/fandomfeed/internal/notification/db"
	"github.com/nao1215/fandomfeed/pkg/event"
)

// Notification はファンダムで発生したコンテンツの通知。作成後は変更されない。
type Notification struct {
	// ID は通知ID。
	ID int64 `json:"id"`
	// FandomID は通知が属するファンダムのID。
	FandomID int64 `json:"fandomId"`
	// NotifierID は通知のきっかけとなった投稿またはイベントのID。
	NotifierID int64 `json:"notifierId"`
	// CreatedAt は通知の作成日時（UTC）。
	CreatedAt time.Time `json:"createdAt"`
	// Type は通知種別。
	Type event.NotificationType `json:"type"`
}

// Subscription はユーザーのファンダム購読。ファンダムサービスが管理する。
type Subscription struct {
	FandomID     int64     `json:"fandomId"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// FeedEntry はフィードに表示する1件。通知と既読状態を結合した派生値で、保存はされない。
type FeedEntry struct {
	Notification
	// ViewedStateID は状態行のID。行が無い場合はnil。
	ViewedStateID *int64 `json:"viewedStateId,omitempty"`
	// ViewedAt は既読日時。未読の場合はnil。
	ViewedAt *time.Time `json:"viewedAt,omitempty"`
	// IsHidden は非表示にされているかどうか。
	IsHidden bool `json:"isHidden"`
	// IsViewed は既読かどうか。
	IsViewed bool `json:"isViewed"`
}

func toNotification(row notificationdb.Notification) Notification {
	return Notification{
		ID:         row.ID,
		FandomID:   row.FandomID,
		NotifierID: row.NotifierID,
		CreatedAt:  fromMillis(row.CreatedAt),
		Type:       event.NotificationType(row.Type),
	}
}

// newFeedEntry は通知と状態行からFeedEntryを組み立てる。stateがnilなら未読かつ表示中。
func newFeedEntry(n Notification, state *notificationdb.ViewedState) FeedEntry {
	entry := FeedEntry{Notification: n}
	if state == nil {
		return entry
	}
	id := state.ID
	entry.ViewedStateID = &id
	entry.IsHidden = state.IsHidden
	if state.ViewedAt.Valid {
		viewedAt := fromMillis(state.ViewedAt.Int64)
		entry.ViewedAt = &viewedAt
		entry.IsViewed = true
	}
	return entry
}

// subscriptionWindow はファンダムIDごとの購読開始日時。同じファンダムが複数ある場合は最も古いものを使う。
type subscriptionWindow map[int64]time.Time

func newSubscriptionWindow(subs []Subscription) subscriptionWindow {
	w := make(subscriptionWindow, len(subs))
	for _, s := range subs {
		if since, ok := w[s.FandomID]; !ok || s.SubscribedAt.Before(since) {
			w[s.FandomID] = s.SubscribedAt
		}
	}
	return w
}

// visible は通知が購読開始以降に作成されたものかどうかを返す。
func (w subscriptionWindow) visible(n Notification) bool {
	since, ok := w[n.FandomID]
	return ok && !n.CreatedAt.Before(since)
}

func (w subscriptionWindow) fandomIDs() []int64 {
	ids := make([]int64, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// sortFeed は作成日時の降順（同時刻はID降順）に並べ替える。
func sortFeed(entries []FeedEntry) {
	slices.SortFunc(entries, func(a, b FeedEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		default:
			return 0
		}
	})
}

// uniqueIDs は重複を取り除いたIDを元の順序で返す。
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
