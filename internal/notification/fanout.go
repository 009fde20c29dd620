package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	notificationdb "github.com/nao1215/fandomfeed/internal/notification/db"
	"github.com/nao1215/fandomfeed/pkg/event"
)

// Pusher は接続中のユーザーへペイロードを配信する。
type Pusher interface {
	// PushToUsers はキューイングできたセッション数を返す。
	PushToUsers(userIDs []int64, payload []byte) int
}

// FanoutCoordinator は通知を保存し、作成時点の購読者へ配信する。
type FanoutCoordinator struct {
	db            *sql.DB
	queries       *notificationdb.Queries
	subscriptions SubscriptionIndex
	pusher        Pusher
	opts          coordinatorOptions
}

// NewFanoutCoordinator は新しいFanoutCoordinatorを生成する。pusherがnilの場合は配信しない。
func NewFanoutCoordinator(sqlDB *sql.DB, subscriptions SubscriptionIndex, pusher Pusher, opts ...CoordinatorOption) *FanoutCoordinator {
	return &FanoutCoordinator{
		db:            sqlDB,
		queries:       notificationdb.New(sqlDB),
		subscriptions: subscriptions,
		pusher:        pusher,
		opts:          newCoordinatorOptions(opts),
	}
}

// Create は通知を保存し、ファンダムの購読者へNotificationCreatedイベントを配信する。
// 購読者の解決はファンダムの存在確認を兼ねる。配信は保存のコミット後に行い、
// 失敗しても保存は取り消さない。
func (f *FanoutCoordinator) Create(ctx context.Context, fandomID, notifierID int64, typ event.NotificationType) (Notification, error) {
	ctx, span := f.opts.tracer.Start(ctx, "FanoutCoordinator.Create", trace.WithAttributes(
		attribute.Int64("fandom.id", fandomID),
		attribute.Int64("notifier.id", notifierID),
		attribute.String("notification.type", string(typ)),
	))
	defer span.End()

	subscribers, err := f.subscriptions.SubscribersByFandomID(ctx, fandomID)
	if err != nil {
		recordError(span, err)
		return Notification{}, err
	}

	row, err := f.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		FandomID:   fandomID,
		NotifierID: notifierID,
		Type:       string(typ),
		CreatedAt:  toMillis(f.opts.now()),
	})
	if err != nil {
		err = fmt.Errorf("通知の保存に失敗: %w", err)
		recordError(span, err)
		return Notification{}, err
	}
	n := toNotification(row)
	span.SetAttributes(attribute.Int64("notification.id", n.ID), attribute.Int("subscriber.count", len(subscribers)))

	f.push(n, subscribers)
	return n, nil
}

// push は通知を購読者の全セッションへ配信する。失敗はログに残すのみ。
func (f *FanoutCoordinator) push(n Notification, subscribers []int64) {
	if f.pusher == nil || len(subscribers) == 0 {
		return
	}
	payload, err := event.Encode(event.TypeNotificationCreated, event.NotificationCreatedData{
		ID:         n.ID,
		FandomID:   n.FandomID,
		NotifierID: n.NotifierID,
		CreatedAt:  n.CreatedAt,
		Type:       n.Type,
	})
	if err != nil {
		log.Printf("[Fanout] 通知 %d のイベント生成に失敗: %v", n.ID, err)
		return
	}
	sessions := f.pusher.PushToUsers(subscribers, payload)
	log.Printf("[Fanout] 通知 %d を配信しました: 購読者=%d セッション=%d", n.ID, len(subscribers), sessions)
}

// Delete は通知とそれを参照するすべての既読状態を1つのトランザクションで削除する。
func (f *FanoutCoordinator) Delete(ctx context.Context, notificationID int64) error {
	ctx, span := f.opts.tracer.Start(ctx, "FanoutCoordinator.Delete", trace.WithAttributes(
		attribute.Int64("notification.id", notificationID),
	))
	defer span.End()

	err := runInTx(ctx, f.db, func(tx *sql.Tx) error {
		q := f.queries.WithTx(tx)
		if _, err := q.GetNotificationByID(ctx, notificationID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(ResourceNotification, notificationID)
			}
			return fmt.Errorf("通知の取得に失敗: %w", err)
		}
		_, err := deleteWithViewedStates(ctx, q, []int64{notificationID})
		return err
	})
	if err != nil {
		recordError(span, err)
	}
	return err
}

// DeleteByNotifier は投稿やイベントの削除に伴い、それを発生源とする通知をすべて削除する。
// 削除した通知の件数を返す。該当が無い場合は0を返す。
func (f *FanoutCoordinator) DeleteByNotifier(ctx context.Context, typ event.NotificationType, notifierID int64) (int, error) {
	ctx, span := f.opts.tracer.Start(ctx, "FanoutCoordinator.DeleteByNotifier", trace.WithAttributes(
		attribute.String("notification.type", string(typ)),
		attribute.Int64("notifier.id", notifierID),
	))
	defer span.End()

	var deleted int64
	err := runInTx(ctx, f.db, func(tx *sql.Tx) error {
		q := f.queries.WithTx(tx)
		ids, err := q.ListNotificationIDsByNotifier(ctx, notificationdb.ListNotificationIDsByNotifierParams{
			Type:       string(typ),
			NotifierID: notifierID,
		})
		if err != nil {
			return fmt.Errorf("通知IDの取得に失敗: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		deleted, err = deleteWithViewedStates(ctx, q, ids)
		return err
	})
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	return int(deleted), nil
}

// deleteWithViewedStates は既読状態を先に削除してから通知を削除する。
func deleteWithViewedStates(ctx context.Context, q *notificationdb.Queries, ids []int64) (int64, error) {
	stateIDs, err := q.ListViewedStateIDsByNotificationIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("既読状態の取得に失敗: %w", err)
	}
	if len(stateIDs) > 0 {
		if _, err := q.DeleteViewedStatesByIDs(ctx, stateIDs); err != nil {
			return 0, fmt.Errorf("既読状態の削除に失敗: %w", err)
		}
	}
	n, err := q.DeleteNotifications(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return n, nil
}

// recordError はNotFound以外のエラーをスパンに記録する。
func recordError(span trace.Span, err error) {
	if errors.Is(err, ErrNotFound) {
		span.SetAttributes(attribute.Bool("not_found", true))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
