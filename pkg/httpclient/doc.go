// Package httpclient はJSON APIを呼び出すHTTPクライアントを提供する。
//
// 通知サービスからファンダムサービス（購読インデックス）への問い合わせと、
// feedclientからの通知APIの呼び出しで共通して使用する。
// 2xx以外の応答は*StatusErrorとして返し、呼び出し側で404などを判別できる。
package httpclient
