package feedclient

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/fandomfeed/pkg/event"
	"github.com/nao1215/fandomfeed/pkg/httpclient"
)

// Entry はフィードの1件。
type Entry struct {
	ID            int64                  `json:"id"`
	FandomID      int64                  `json:"fandomId"`
	NotifierID    int64                  `json:"notifierId"`
	CreatedAt     time.Time              `json:"createdAt"`
	Type          event.NotificationType `json:"type"`
	ViewedStateID *int64                 `json:"viewedStateId,omitempty"`
	ViewedAt      *time.Time             `json:"viewedAt,omitempty"`
	IsHidden      bool                   `json:"isHidden"`
	IsViewed      bool                   `json:"isViewed"`
}

// idsRequest は一括操作リクエストのボディ。
type idsRequest struct {
	NotificationIDs []int64 `json:"notificationIds"`
}

// Client は通知サービスのAPIクライアント。
type Client struct {
	http   *httpclient.Client
	dialer *websocket.Dialer
}

// NewClient はbaseURLの通知サービスへtokenで認証するクライアントを生成する。
func NewClient(baseURL, token string, opts ...httpclient.Option) *Client {
	opts = append([]httpclient.Option{httpclient.WithBearerToken(token)}, opts...)
	return &Client{
		http: httpclient.New(baseURL, opts...),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Feed はフィードを取得する。isHiddenがnilの場合は非表示の通知も含む。
func (c *Client) Feed(ctx context.Context, isHidden *bool) ([]Entry, error) {
	path := "/api/v1/feed"
	if isHidden != nil {
		path += "?isHidden=" + strconv.FormatBool(*isHidden)
	}
	var entries []Entry
	if err := c.http.GetJSON(ctx, path, &entries); err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	return entries, nil
}

// Entry は1件の通知を取得する。
func (c *Client) Entry(ctx context.Context, notificationID int64) (Entry, error) {
	var entry Entry
	if err := c.http.GetJSON(ctx, fmt.Sprintf("/api/v1/feed/%d", notificationID), &entry); err != nil {
		return Entry{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return entry, nil
}

// MarkViewed は通知を既読にする。
func (c *Client) MarkViewed(ctx context.Context, ids []int64) error {
	return c.bulk(ctx, http.MethodPost, "/api/v1/viewed", ids)
}

// Unmark は通知を未読に戻す。
func (c *Client) Unmark(ctx context.Context, ids []int64) error {
	return c.bulk(ctx, http.MethodDelete, "/api/v1/viewed", ids)
}

// Hide は通知を非表示にする。
func (c *Client) Hide(ctx context.Context, ids []int64) error {
	return c.bulk(ctx, http.MethodPost, "/api/v1/viewed/hide", ids)
}

// Unhide は通知の非表示を解除する。
func (c *Client) Unhide(ctx context.Context, ids []int64) error {
	return c.bulk(ctx, http.MethodPost, "/api/v1/viewed/unhide", ids)
}

// bulk は一括操作を送信する。IDが空の場合はリクエストしない。
func (c *Client) bulk(ctx context.Context, method, path string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	req := idsRequest{NotificationIDs: ids}
	var err error
	switch method {
	case http.MethodDelete:
		err = c.http.DeleteJSON(ctx, path, req, nil)
	default:
		err = c.http.PostJSON(ctx, path, req, nil)
	}
	if err != nil {
		return fmt.Errorf("%s %s に失敗: %w", method, path, err)
	}
	return nil
}

// Subscribe はリアルタイム配信に接続し、受信したイベントを返すチャネルを返す。
// チャネルはctxのキャンセルまたは切断で閉じる。再接続は呼び出し側の責務。
func (c *Client) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	url := c.http.BaseURL() + "/api/v1/realtime"
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.http.BearerToken())
	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("リアルタイム配信への接続に失敗 (status=%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("リアルタイム配信への接続に失敗: %w", err)
	}

	events := make(chan event.Event)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(events)
		defer close(stop)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			e, err := event.Decode(msg)
			if err != nil {
				log.Printf("[FeedClient] 不正なイベントを破棄しました: %v", err)
				continue
			}
			select {
			case events <- *e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
