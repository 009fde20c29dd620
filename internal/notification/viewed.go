package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	notificationdb "github.com/nao1215/fandomfeed/internal/notification/db"
)

// ViewedStateCoordinator はフィードの構築と、既読・非表示状態の一括更新を行う。
type ViewedStateCoordinator struct {
	db            *sql.DB
	queries       *notificationdb.Queries
	subscriptions SubscriptionIndex
	opts          coordinatorOptions
}

// NewViewedStateCoordinator は新しいViewedStateCoordinatorを生成する。
func NewViewedStateCoordinator(sqlDB *sql.DB, subscriptions SubscriptionIndex, opts ...CoordinatorOption) *ViewedStateCoordinator {
	return &ViewedStateCoordinator{
		db:            sqlDB,
		queries:       notificationdb.New(sqlDB),
		subscriptions: subscriptions,
		opts:          newCoordinatorOptions(opts),
	}
}

// GetFeed はユーザーのフィードを新しい順に返す。
// 購読開始日時より前に作成された通知は含まない。isHiddenがnilの場合は
// 非表示の通知も含め、指定された場合はその値に一致するものだけを返す。
func (v *ViewedStateCoordinator) GetFeed(ctx context.Context, userID int64, isHidden *bool) ([]FeedEntry, error) {
	ctx, span := v.opts.tracer.Start(ctx, "ViewedStateCoordinator.GetFeed", trace.WithAttributes(
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	var (
		window        subscriptionWindow
		notifications []notificationdb.Notification
		states        map[int64]notificationdb.ViewedState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		subs, err := v.subscriptions.SubscriptionsByUserID(gctx, userID)
		if err != nil {
			return err
		}
		window = newSubscriptionWindow(subs)
		if len(window) == 0 {
			return nil
		}
		notifications, err = v.queries.ListNotificationsByFandomIDs(gctx, window.fandomIDs())
		if err != nil {
			return fmt.Errorf("通知一覧の取得に失敗: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rows, err := v.queries.ListViewedStatesByUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("既読状態の取得に失敗: %w", err)
		}
		states = make(map[int64]notificationdb.ViewedState, len(rows))
		for _, row := range rows {
			states[row.NotificationID] = row
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		recordError(span, err)
		return nil, err
	}

	entries := make([]FeedEntry, 0, len(notifications))
	for _, row := range notifications {
		n := toNotification(row)
		if !window.visible(n) {
			continue
		}
		var state *notificationdb.ViewedState
		if s, ok := states[n.ID]; ok {
			state = &s
		}
		entry := newFeedEntry(n, state)
		if isHidden != nil && entry.IsHidden != *isHidden {
			continue
		}
		entries = append(entries, entry)
	}
	sortFeed(entries)

	span.SetAttributes(attribute.Int("feed.size", len(entries)))
	return entries, nil
}

// GetSingle は1件の通知をユーザー視点のFeedEntryとして返す。
// 通知が存在しないか、ユーザーから見えない場合はNotFound。未読であることはNotFoundの理由にならない。
func (v *ViewedStateCoordinator) GetSingle(ctx context.Context, userID, notificationID int64) (FeedEntry, error) {
	subs, err := v.subscriptions.SubscriptionsByUserID(ctx, userID)
	if err != nil {
		return FeedEntry{}, err
	}

	row, err := v.queries.GetNotificationByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FeedEntry{}, notFound(ResourceNotification, notificationID)
		}
		return FeedEntry{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	n := toNotification(row)
	if !newSubscriptionWindow(subs).visible(n) {
		return FeedEntry{}, notFound(ResourceNotification, notificationID)
	}

	state, err := v.queries.GetViewedState(ctx, notificationdb.GetViewedStateParams{
		NotificationID: notificationID,
		UserID:         userID,
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return newFeedEntry(n, nil), nil
	case err != nil:
		return FeedEntry{}, fmt.Errorf("既読状態の取得に失敗: %w", err)
	}
	return newFeedEntry(n, &state), nil
}

// MarkViewed は通知を既読にする。状態行が無ければ現在時刻で作成し、
// 非表示操作で作られた未読の行には既読日時を設定する。既読済みの行は変更しない。
func (v *ViewedStateCoordinator) MarkViewed(ctx context.Context, userID int64, notificationIDs []int64) error {
	return v.bulk(ctx, "MarkViewed", userID, notificationIDs, func(ctx context.Context, q *notificationdb.Queries, ids []int64) (int64, error) {
		now := toMillis(v.opts.now())
		var changed int64
		for _, id := range ids {
			n, err := q.InsertViewedState(ctx, notificationdb.InsertViewedStateParams{
				NotificationID: id,
				UserID:         userID,
				ViewedAt:       sql.NullInt64{Int64: now, Valid: true},
			})
			if err != nil {
				return 0, fmt.Errorf("既読状態の作成に失敗: %w", err)
			}
			changed += n
		}
		n, err := q.MarkViewedAt(ctx, notificationdb.MarkViewedAtParams{
			ViewedAt:        now,
			UserID:          userID,
			NotificationIds: ids,
		})
		if err != nil {
			return 0, fmt.Errorf("既読日時の更新に失敗: %w", err)
		}
		return changed + n, nil
	})
}

// Unmark は既読状態の行を削除し、未読かつ表示中に戻す。
func (v *ViewedStateCoordinator) Unmark(ctx context.Context, userID int64, notificationIDs []int64) error {
	return v.bulk(ctx, "Unmark", userID, notificationIDs, func(ctx context.Context, q *notificationdb.Queries, ids []int64) (int64, error) {
		n, err := q.DeleteViewedStatesByUser(ctx, notificationdb.ViewedStatesByUserParams{
			UserID:          userID,
			NotificationIds: ids,
		})
		if err != nil {
			return 0, fmt.Errorf("既読状態の削除に失敗: %w", err)
		}
		return n, nil
	})
}

// Hide は通知を非表示にする。状態行が無ければ未読のまま作成する。
func (v *ViewedStateCoordinator) Hide(ctx context.Context, userID int64, notificationIDs []int64) error {
	return v.bulk(ctx, "Hide", userID, notificationIDs, func(ctx context.Context, q *notificationdb.Queries, ids []int64) (int64, error) {
		var changed int64
		for _, id := range ids {
			n, err := q.InsertViewedState(ctx, notificationdb.InsertViewedStateParams{
				NotificationID: id,
				UserID:         userID,
				IsHidden:       true,
			})
			if err != nil {
				return 0, fmt.Errorf("既読状態の作成に失敗: %w", err)
			}
			changed += n
		}
		n, err := q.SetHidden(ctx, notificationdb.SetHiddenParams{
			IsHidden:        true,
			UserID:          userID,
			NotificationIds: ids,
		})
		if err != nil {
			return 0, fmt.Errorf("非表示フラグの更新に失敗: %w", err)
		}
		return changed + n, nil
	})
}

// Unhide は非表示を解除する。既読日時は変更しない。
func (v *ViewedStateCoordinator) Unhide(ctx context.Context, userID int64, notificationIDs []int64) error {
	return v.bulk(ctx, "Unhide", userID, notificationIDs, func(ctx context.Context, q *notificationdb.Queries, ids []int64) (int64, error) {
		n, err := q.SetHidden(ctx, notificationdb.SetHiddenParams{
			IsHidden:        false,
			UserID:          userID,
			NotificationIds: ids,
		})
		if err != nil {
			return 0, fmt.Errorf("非表示フラグの更新に失敗: %w", err)
		}
		return n, nil
	})
}

// bulkFunc はトランザクション内で実行される一括更新。変更した行数を返す。
type bulkFunc func(ctx context.Context, q *notificationdb.Queries, ids []int64) (int64, error)

// bulk は一括操作の共通処理。空のIDリストは何もしない。
// 存在しない通知IDが1つでも含まれていれば、何も変更せずにそのIDを列挙したNotFoundを返す。
func (v *ViewedStateCoordinator) bulk(ctx context.Context, op string, userID int64, notificationIDs []int64, fn bulkFunc) error {
	ids := uniqueIDs(notificationIDs)
	if len(ids) == 0 {
		return nil
	}

	ctx, span := v.opts.tracer.Start(ctx, "ViewedStateCoordinator."+op, trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int("notification.count", len(ids)),
	))
	defer span.End()

	if _, err := v.subscriptions.SubscriptionsByUserID(ctx, userID); err != nil {
		recordError(span, err)
		return err
	}

	var changed int64
	err := runInTx(ctx, v.db, func(tx *sql.Tx) error {
		q := v.queries.WithTx(tx)
		if err := requireNotifications(ctx, q, ids); err != nil {
			return err
		}
		var err error
		changed, err = fn(ctx, q, ids)
		return err
	})
	if err != nil {
		recordError(span, err)
		return err
	}

	span.SetAttributes(attribute.Int64("rows.changed", changed))
	if changed > 0 {
		log.Printf("[ViewedState] %s: user=%d 対象=%d 変更=%d", op, userID, len(ids), changed)
	}
	return nil
}

// requireNotifications はすべての通知IDが存在することを確認する。
func requireNotifications(ctx context.Context, q *notificationdb.Queries, ids []int64) error {
	found, err := q.ListNotificationIDsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("通知の存在確認に失敗: %w", err)
	}
	exists := make(map[int64]struct{}, len(found))
	for _, id := range found {
		exists[id] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := exists[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return notFound(ResourceNotification, missing...)
	}
	return nil
}
