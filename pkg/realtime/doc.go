// Package realtime はWebSocketによるユーザー単位のプッシュ配信を提供する。
//
// 1ユーザーは0個以上のセッションを持ち、各セッションは送信バッファと
// 書き込み・読み込み用のゴルーチンを1つずつ持つ。配信はat-most-onceで、
// バッファが満杯のセッションへのメッセージは破棄される。
package realtime
