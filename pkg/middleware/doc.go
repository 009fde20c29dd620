// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証（数値ユーザーIDとロールの取り出し、サービス間トークンの判定）、パニックリカバリ、
// CORS設定とWebSocketのOrigin判定を含む。
package middleware
