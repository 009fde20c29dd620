// Package notification は通知サービスの内部実装を提供する。
//
// ファンダムで作成されたコンテンツを通知として保存し、作成時点の購読者へ
// リアルタイムに配信する。ユーザーごとの既読・非表示状態を管理し、
// 購読開始日時以降の通知だけを含むフィードを構築する。
package notification
