package db

import (
	"context"
	"database/sql"
)

func scanViewedStates(rows *sql.Rows) ([]ViewedState, error) {
	defer rows.Close()
	var items []ViewedState
	for rows.Next() {
		var i ViewedState
		if err := rows.Scan(
			&i.ID,
			&i.NotificationID,
			&i.UserID,
			&i.ViewedAt,
			&i.IsHidden,
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

const listViewedStatesByUser = `-- name: ListViewedStatesByUser :many
SELECT id, notification_id, user_id, viewed_at, is_hidden
FROM viewed_states
WHERE user_id = ?
`

// ListViewedStatesByUser はユーザーのすべての状態行を返す。
func (q *Queries) ListViewedStatesByUser(ctx context.Context, userID int64) ([]ViewedState, error) {
	rows, err := q.db.QueryContext(ctx, listViewedStatesByUser, userID)
	if err != nil {
		return nil, err
	}
	return scanViewedStates(rows)
}

const getViewedState = `-- name: GetViewedState :one
SELECT id, notification_id, user_id, viewed_at, is_hidden
FROM viewed_states
WHERE notification_id = ? AND user_id = ?
`

// GetViewedStateParams はGetViewedStateの引数。
type GetViewedStateParams struct {
	NotificationID int64
	UserID         int64
}

// GetViewedState は(通知, ユーザー)の状態行を1件取得する。
func (q *Queries) GetViewedState(ctx context.Context, arg GetViewedStateParams) (ViewedState, error) {
	row := q.db.QueryRowContext(ctx, getViewedState, arg.NotificationID, arg.UserID)
	var i ViewedState
	err := row.Scan(
		&i.ID,
		&i.NotificationID,
		&i.UserID,
		&i.ViewedAt,
		&i.IsHidden,
	)
	return i, err
}

// ViewedStatesByUserParams はユーザーと通知ID群を指定するクエリの引数。
type ViewedStatesByUserParams struct {
	UserID          int64
	NotificationIds []int64
}

const listViewedStateIDsByNotificationIDs = `-- name: ListViewedStateIDsByNotificationIDs :many
SELECT id FROM viewed_states
WHERE notification_id IN (/*SLICE:notification_ids*/?)
ORDER BY id
`

// ListViewedStateIDsByNotificationIDs は通知群を参照するすべての状態行IDを返す。
func (q *Queries) ListViewedStateIDsByNotificationIDs(ctx context.Context, notificationIds []int64) ([]int64, error) {
	query, args := expandSlice(listViewedStateIDsByNotificationIDs, "notification_ids", notificationIds, nil)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

const insertViewedState = `-- name: InsertViewedState :execrows
INSERT INTO viewed_states (notification_id, user_id, viewed_at, is_hidden)
VALUES (?, ?, ?, ?)
ON CONFLICT (notification_id, user_id) DO NOTHING
`

// InsertViewedStateParams はInsertViewedStateの引数。
type InsertViewedStateParams struct {
	NotificationID int64
	UserID         int64
	ViewedAt       sql.NullInt64
	IsHidden       bool
}

// InsertViewedState は状態行を作成する。既に行があれば何もせず0を返す。
func (q *Queries) InsertViewedState(ctx context.Context, arg InsertViewedStateParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertViewedState,
		arg.NotificationID,
		arg.UserID,
		arg.ViewedAt,
		arg.IsHidden,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markViewedAt = `-- name: MarkViewedAt :execrows
UPDATE viewed_states
SET viewed_at = ?
WHERE user_id = ? AND viewed_at IS NULL AND notification_id IN (/*SLICE:notification_ids*/?)
`

// MarkViewedAtParams はMarkViewedAtの引数。
type MarkViewedAtParams struct {
	ViewedAt        int64
	UserID          int64
	NotificationIds []int64
}

// MarkViewedAt は未読の状態行に既読日時を設定する。既読済みの行は変更しない。
func (q *Queries) MarkViewedAt(ctx context.Context, arg MarkViewedAtParams) (int64, error) {
	query, args := expandSlice(markViewedAt, "notification_ids", arg.NotificationIds, []interface{}{arg.ViewedAt, arg.UserID})
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setHidden = `-- name: SetHidden :execrows
UPDATE viewed_states
SET is_hidden = ?
WHERE user_id = ? AND is_hidden <> ? AND notification_id IN (/*SLICE:notification_ids*/?)
`

// SetHiddenParams はSetHiddenの引数。
type SetHiddenParams struct {
	IsHidden        bool
	UserID          int64
	NotificationIds []int64
}

// SetHidden は状態行の非表示フラグを一括で更新し、変更した件数を返す。
func (q *Queries) SetHidden(ctx context.Context, arg SetHiddenParams) (int64, error) {
	query, args := expandSlice(setHidden, "notification_ids", arg.NotificationIds, []interface{}{arg.IsHidden, arg.UserID, arg.IsHidden})
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteViewedStatesByUser = `-- name: DeleteViewedStatesByUser :execrows
DELETE FROM viewed_states
WHERE user_id = ? AND notification_id IN (/*SLICE:notification_ids*/?)
`

// DeleteViewedStatesByUser は指定通知に対するユーザーの状態行を削除する。
func (q *Queries) DeleteViewedStatesByUser(ctx context.Context, arg ViewedStatesByUserParams) (int64, error) {
	query, args := expandSlice(deleteViewedStatesByUser, "notification_ids", arg.NotificationIds, []interface{}{arg.UserID})
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteViewedStatesByIDs = `-- name: DeleteViewedStatesByIDs :execrows
DELETE FROM viewed_states
WHERE id IN (/*SLICE:ids*/?)
`

// DeleteViewedStatesByIDs は状態行をIDで削除する。
func (q *Queries) DeleteViewedStatesByIDs(ctx context.Context, ids []int64) (int64, error) {
	query, args := expandSlice(deleteViewedStatesByIDs, "ids", ids, nil)
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
