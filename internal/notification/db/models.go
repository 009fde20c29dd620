package db

import (
	"database/sql"
)

// Notification はnotificationsテーブルの1行。
type Notification struct {
	ID         int64
	FandomID   int64
	NotifierID int64
	Type       string
	// CreatedAt はUTCのUnixミリ秒。
	CreatedAt int64
}

// ViewedState はviewed_statesテーブルの1行。
type ViewedState struct {
	ID             int64
	NotificationID int64
	UserID         int64
	// ViewedAt はUTCのUnixミリ秒。非表示操作のみで作られた行ではNULL。
	ViewedAt sql.NullInt64
	IsHidden bool
}
