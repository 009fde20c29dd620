package realtime

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrHubClosed は停止済みのHubへセッションを登録しようとした場合のエラー。
var ErrHubClosed = errors.New("realtimeハブは停止済みです")

// DefaultSendBuffer はセッションごとの送信バッファの既定サイズ。
const DefaultSendBuffer = 16

// Hub は接続中のセッションをユーザーIDごとに管理する。
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[string]*Session
	closed   bool

	sendBuffer int
	upgrader   websocket.Upgrader
}

// Option はHubの設定を変更する関数。
type Option func(*Hub)

// WithSendBuffer はセッションごとの送信バッファサイズを設定する。
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithOriginCheck はWebSocketハンドシェイク時のOrigin判定関数を設定する。
// Originヘッダーを送らないクライアント（ブラウザ以外）は常に許可する。
func WithOriginCheck(allow func(origin string) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allow(origin)
		}
	}
}

// NewHub は新しいHubを生成する。
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[int64]map[string]*Session),
		sendBuffer: DefaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS はHTTP接続をWebSocketへ昇格し、userIDのセッションとして登録する。
// 昇格に失敗した場合、レスポンスはgorilla/websocketが書き込み済み。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := newSession(h, userID, conn)
	if err := h.Register(s); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline())
		_ = conn.Close()
		return err
	}

	go s.writePump()
	go s.readPump()
	return nil
}

// Register はセッションを登録する。
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	byID, ok := h.sessions[s.userID]
	if !ok {
		byID = make(map[string]*Session)
		h.sessions[s.userID] = byID
	}
	byID[s.id] = s
	log.Printf("[Realtime] セッションを登録しました: user=%d session=%s (ユーザーのセッション数=%d)", s.userID, s.id, len(byID))
	return nil
}

// Unregister はセッションを登録解除して切断する。複数回呼んでも安全。
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if byID, ok := h.sessions[s.userID]; ok {
		if _, ok := byID[s.id]; ok {
			delete(byID, s.id)
			if len(byID) == 0 {
				delete(h.sessions, s.userID)
			}
			log.Printf("[Realtime] セッションを登録解除しました: user=%d session=%s", s.userID, s.id)
		}
	}
	h.mu.Unlock()

	s.close()
}

// PushToUsers は指定ユーザーの全セッションへpayloadをキューイングし、
// キューイングできたセッション数を返す。送信バッファが満杯のセッションには配信しない。
// ネットワークへの書き込みは各セッションの書き込みゴルーチンで並行に行われる。
func (h *Hub) PushToUsers(userIDs []int64, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, userID := range userIDs {
		for _, s := range h.sessions[userID] {
			select {
			case s.send <- payload:
				delivered++
			default:
				log.Printf("[Realtime] 送信バッファが満杯のためメッセージを破棄しました: user=%d session=%s", userID, s.id)
			}
		}
	}
	return delivered
}

// SessionCount はユーザーの接続中セッション数を返す。
func (h *Hub) SessionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Close はすべてのセッションを切断し、以降の登録を拒否する。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Session
	for _, byID := range h.sessions {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	h.sessions = make(map[int64]map[string]*Session)
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	log.Printf("[Realtime] ハブを停止しました: 切断したセッション数=%d", len(all))
}
