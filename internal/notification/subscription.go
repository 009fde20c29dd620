package notification

import (
	"context"
	"fmt"

	"github.com/nao1215/fandomfeed/pkg/httpclient"
)

// SubscriptionIndex はファンダム購読情報の読み取り専用ビュー。
type SubscriptionIndex interface {
	// SubscriptionsByUserID はユーザーの購読一覧を返す。未知のユーザーはNotFound。
	SubscriptionsByUserID(ctx context.Context, userID int64) ([]Subscription, error)
	// SubscribersByFandomID はファンダムを現在購読しているユーザーIDを返す。未知のファンダムはNotFound。
	SubscribersByFandomID(ctx context.Context, fandomID int64) ([]int64, error)
}

// HTTPSubscriptionIndex はファンダムサービスの内部APIから購読情報を取得する。
type HTTPSubscriptionIndex struct {
	client *httpclient.Client
}

// NewHTTPSubscriptionIndex は新しいHTTPSubscriptionIndexを生成する。
func NewHTTPSubscriptionIndex(client *httpclient.Client) *HTTPSubscriptionIndex {
	return &HTTPSubscriptionIndex{client: client}
}

// SubscriptionsByUserID は GET /api/v1/internal/users/:id/subscriptions を呼び出す。
func (h *HTTPSubscriptionIndex) SubscriptionsByUserID(ctx context.Context, userID int64) ([]Subscription, error) {
	var subs []Subscription
	path := fmt.Sprintf("/api/v1/internal/users/%d/subscriptions", userID)
	if err := h.client.GetJSON(ctx, path, &subs); err != nil {
		if httpclient.IsNotFound(err) {
			return nil, notFound(ResourceUser, userID)
		}
		return nil, fmt.Errorf("購読一覧の取得に失敗: %w", err)
	}
	return subs, nil
}

// subscribersResponse はファンダム購読者一覧APIのレスポンス。
type subscribersResponse struct {
	UserIDs []int64 `json:"userIds"`
}

// SubscribersByFandomID は GET /api/v1/internal/fandoms/:id/subscribers を呼び出す。
func (h *HTTPSubscriptionIndex) SubscribersByFandomID(ctx context.Context, fandomID int64) ([]int64, error) {
	var resp subscribersResponse
	path := fmt.Sprintf("/api/v1/internal/fandoms/%d/subscribers", fandomID)
	if err := h.client.GetJSON(ctx, path, &resp); err != nil {
		if httpclient.IsNotFound(err) {
			return nil, notFound(ResourceFandom, fandomID)
		}
		return nil, fmt.Errorf("購読者一覧の取得に失敗: %w", err)
	}
	return resp.UserIDs, nil
}
