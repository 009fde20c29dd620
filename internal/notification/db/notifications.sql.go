package db

import (
	"context"
)

const createNotification = `-- name: CreateNotification :one
INSERT INTO notifications (fandom_id, notifier_id, type, created_at)
VALUES (?, ?, ?, ?)
RETURNING id, fandom_id, notifier_id, type, created_at
`

// CreateNotificationParams はCreateNotificationの引数。
type CreateNotificationParams struct {
	FandomID   int64
	NotifierID int64
	Type       string
	CreatedAt  int64
}

// CreateNotification は通知を保存し、採番されたIDを含む行を返す。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error) {
	row := q.db.QueryRowContext(ctx, createNotification,
		arg.FandomID,
		arg.NotifierID,
		arg.Type,
		arg.CreatedAt,
	)
	var i Notification
	err := row.Scan(
		&i.ID,
		&i.FandomID,
		&i.NotifierID,
		&i.Type,
		&i.CreatedAt,
	)
	return i, err
}

const getNotificationByID = `-- name: GetNotificationByID :one
SELECT id, fandom_id, notifier_id, type, created_at
FROM notifications
WHERE id = ?
`

// GetNotificationByID はIDで通知を1件取得する。
func (q *Queries) GetNotificationByID(ctx context.Context, id int64) (Notification, error) {
	row := q.db.QueryRowContext(ctx, getNotificationByID, id)
	var i Notification
	err := row.Scan(
		&i.ID,
		&i.FandomID,
		&i.NotifierID,
		&i.Type,
		&i.CreatedAt,
	)
	return i, err
}

const listNotificationsByFandomIDs = `-- name: ListNotificationsByFandomIDs :many
SELECT id, fandom_id, notifier_id, type, created_at
FROM notifications
WHERE fandom_id IN (/*SLICE:fandom_ids*/?)
ORDER BY created_at DESC, id DESC
`

// ListNotificationsByFandomIDs は指定ファンダム群の通知を新しい順に返す。
func (q *Queries) ListNotificationsByFandomIDs(ctx context.Context, fandomIds []int64) ([]Notification, error) {
	query, args := expandSlice(listNotificationsByFandomIDs, "fandom_ids", fandomIds, nil)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Notification
	for rows.Next() {
		var i Notification
		if err := rows.Scan(
			&i.ID,
			&i.FandomID,
			&i.NotifierID,
			&i.Type,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listNotificationIDsByIDs = `-- name: ListNotificationIDsByIDs :many
SELECT id FROM notifications
WHERE id IN (/*SLICE:ids*/?)
`

// ListNotificationIDsByIDs は指定IDのうち存在する通知IDを返す。
func (q *Queries) ListNotificationIDsByIDs(ctx context.Context, ids []int64) ([]int64, error) {
	query, args := expandSlice(listNotificationIDsByIDs, "ids", ids, nil)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

const listNotificationIDsByNotifier = `-- name: ListNotificationIDsByNotifier :many
SELECT id FROM notifications
WHERE type = ? AND notifier_id = ?
ORDER BY id
`

// ListNotificationIDsByNotifierParams はListNotificationIDsByNotifierの引数。
type ListNotificationIDsByNotifierParams struct {
	Type       string
	NotifierID int64
}

// ListNotificationIDsByNotifier は発生源に紐づく通知IDを返す。
func (q *Queries) ListNotificationIDsByNotifier(ctx context.Context, arg ListNotificationIDsByNotifierParams) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listNotificationIDsByNotifier, arg.Type, arg.NotifierID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

const deleteNotifications = `-- name: DeleteNotifications :execrows
DELETE FROM notifications
WHERE id IN (/*SLICE:ids*/?)
`

// DeleteNotifications は通知を削除し、削除件数を返す。
func (q *Queries) DeleteNotifications(ctx context.Context, ids []int64) (int64, error) {
	query, args := expandSlice(deleteNotifications, "ids", ids, nil)
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
