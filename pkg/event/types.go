package event

import (
	"encoding/json"
	"time"
)

// Type はリアルタイムチャネルで配信されるイベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated はファンダムに新しい通知が作成されたことを表す。
	TypeNotificationCreated Type = "NotificationCreated"
)

// NotificationType は通知のきっかけとなったコンテンツの種類を表す。
type NotificationType string

const (
	// NotificationTypeContentPosted はファンダムに投稿が行われたことを表す。
	NotificationTypeContentPosted NotificationType = "ContentPosted"
	// NotificationTypeEventScheduled はファンダムにイベントが登録されたことを表す。
	NotificationTypeEventScheduled NotificationType = "EventScheduled"
)

// Valid は通知種別が既知の値かどうかを返す。
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeContentPosted, NotificationTypeEventScheduled:
		return true
	default:
		return false
	}
}

// Event はサーバーからクライアントへプッシュされるイベントのエンベロープ。
// 配信は最大1回であり、正となる状態は常にポーリングで取得する。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが生成された日時。
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationCreatedData はNotificationCreatedイベントのデータ。
type NotificationCreatedData struct {
	// ID は通知ID。
	ID int64 `json:"id"`
	// FandomID は通知元のファンダムID。
	FandomID int64 `json:"fandomId"`
	// NotifierID は通知のきっかけとなった投稿またはイベントのID。
	NotifierID int64 `json:"notifierId"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"createdAt"`
	// Type は通知種別。
	Type NotificationType `json:"type"`
}
