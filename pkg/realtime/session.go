package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait は1回の書き込みに許容する時間。
	writeWait = 10 * time.Second
	// pongWait はPongを待つ時間。これを超えると切断とみなす。
	pongWait = 60 * time.Second
	// pingPeriod はPingの送信間隔。pongWaitより短くなければならない。
	pingPeriod = (pongWait * 9) / 10
	// maxInboundSize はクライアントから受け付けるフレームの最大サイズ。
	maxInboundSize = 512
)

func deadline() time.Time {
	return time.Now().Add(writeWait)
}

// Session は1つのWebSocket接続を表す。
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	hub    *Hub

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, userID int64, conn *websocket.Conn) *Session {
	return &Session{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, h.sendBuffer),
		done:   make(chan struct{}),
	}
}

// ID はセッションの識別子を返す。
func (s *Session) ID() string { return s.id }

// UserID はセッションの所有ユーザーIDを返す。
func (s *Session) UserID() int64 { return s.userID }

// Done はセッションが閉じられると閉じるチャネルを返す。
func (s *Session) Done() <-chan struct{} { return s.done }

// close はセッションを閉じる。sendチャネルは閉じないため、
// 並行するPushToUsersがパニックすることはない。
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// readPump はクライアントからのフレームを読み捨て、切断を検知する。
func (s *Session) readPump() {
	defer s.hub.Unregister(s)

	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump は送信バッファのメッセージとPingを書き込む。
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.hub.Unregister(s)
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(deadline())
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(deadline())
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
