// Package feedclient は通知サービスのGoクライアントを提供する。
//
// Client はREST APIとリアルタイム配信（WebSocket）への接続を、
// Controller は通知パネルの状態遷移（Idle/Loading/Loaded/Error）と未読表示、
// パネルを閉じたときの非表示・既読の一括反映を担う。
package feedclient
