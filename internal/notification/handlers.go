package notification

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/fandomfeed/pkg/event"
	"github.com/nao1215/fandomfeed/pkg/middleware"
)

// notificationIDsRequest は一括操作リクエストのJSON構造。
type notificationIDsRequest struct {
	// NotificationIDs は対象の通知ID。
	NotificationIDs []int64 `json:"notificationIds" validate:"required,min=1,dive,gt=0"`
}

// createNotificationRequest は通知作成リクエストのJSON構造。
type createNotificationRequest struct {
	// FandomID は通知元のファンダムID。
	FandomID int64 `json:"fandomId" validate:"gt=0"`
	// NotifierID は通知のきっかけとなった投稿またはイベントのID。
	NotifierID int64 `json:"notifierId" validate:"gt=0"`
	// Type は通知種別。
	Type event.NotificationType `json:"type" validate:"required"`
}

// requireUserID は認証済みユーザーIDを取り出す。取り出せない場合は401を返してfalseを返す。
func requireUserID(c *gin.Context) (int64, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return 0, false
	}
	return userID, true
}

// parseID はパスパラメータの正のIDを取り出す。
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
		return 0, false
	}
	return id, true
}

// writeError はエラーをHTTPレスポンスに変換する。NotFound以外はログに記録して500を返す。
func writeError(c *gin.Context, err error, message string) {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		body := gin.H{"error": nf.Error()}
		if nf.Resource == ResourceNotification {
			body["notificationIds"] = nf.IDs
		}
		c.JSON(http.StatusNotFound, body)
		return
	}
	log.Printf("%s: %v", message, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

// handleGetFeed は認証済みユーザーのフィードを返すハンドラ。
// isHiddenクエリを省略すると非表示の通知も含めて返す。
func (s *Server) handleGetFeed() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		var isHidden *bool
		if raw, ok := c.GetQuery("isHidden"); ok && raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "isHiddenの値が不正です"})
				return
			}
			isHidden = &v
		}

		entries, err := s.viewed.GetFeed(c.Request.Context(), userID, isHidden)
		if err != nil {
			writeError(c, err, "フィードの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

// handleGetFeedEntry は1件の通知をフィード形式で返すハンドラ。
func (s *Server) handleGetFeedEntry() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		notificationID, ok := parseID(c, "id")
		if !ok {
			return
		}

		entry, err := s.viewed.GetSingle(c.Request.Context(), userID, notificationID)
		if err != nil {
			writeError(c, err, "通知の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// bindNotificationIDs は一括操作リクエストを読み取る。
// JSONとして不正な場合は400を返す。ボディやIDリストが空、またはIDが不正な場合は何もせず200を返す。
func bindNotificationIDs(c *gin.Context) ([]int64, bool) {
	var req notificationIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
		return nil, false
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "対象の通知がありません"})
		return nil, false
	}
	return req.NotificationIDs, true
}

// bulkHandler は一括操作ハンドラの共通処理。
func (s *Server) bulkHandler(
	op func(c *gin.Context, userID int64, ids []int64) error,
	failure, success string,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		ids, ok := bindNotificationIDs(c)
		if !ok {
			return
		}
		if err := op(c, userID, ids); err != nil {
			writeError(c, err, failure)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": success})
	}
}

// handleMarkViewed は通知を既読にするハンドラ。
func (s *Server) handleMarkViewed() gin.HandlerFunc {
	return s.bulkHandler(func(c *gin.Context, userID int64, ids []int64) error {
		return s.viewed.MarkViewed(c.Request.Context(), userID, ids)
	}, "既読処理に失敗しました", "通知を既読にしました")
}

// handleUnmark は通知を未読に戻すハンドラ。
func (s *Server) handleUnmark() gin.HandlerFunc {
	return s.bulkHandler(func(c *gin.Context, userID int64, ids []int64) error {
		return s.viewed.Unmark(c.Request.Context(), userID, ids)
	}, "未読処理に失敗しました", "通知を未読に戻しました")
}

// handleHide は通知を非表示にするハンドラ。
func (s *Server) handleHide() gin.HandlerFunc {
	return s.bulkHandler(func(c *gin.Context, userID int64, ids []int64) error {
		return s.viewed.Hide(c.Request.Context(), userID, ids)
	}, "非表示処理に失敗しました", "通知を非表示にしました")
}

// handleUnhide は通知の非表示を解除するハンドラ。
func (s *Server) handleUnhide() gin.HandlerFunc {
	return s.bulkHandler(func(c *gin.Context, userID int64, ids []int64) error {
		return s.viewed.Unhide(c.Request.Context(), userID, ids)
	}, "非表示解除に失敗しました", "通知の非表示を解除しました")
}

// handleRealtime はWebSocketへ昇格してリアルタイム配信を開始するハンドラ。
func (s *Server) handleRealtime() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		if err := s.hub.ServeWS(c.Writer, c.Request, userID); err != nil {
			log.Printf("WebSocket接続の確立に失敗: user=%d: %v", userID, err)
		}
	}
}

// handleCreateNotification は通知を作成して購読者へ配信するハンドラ。
func (s *Server) handleCreateNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := validate.Struct(req); err != nil || !req.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fandomId・notifierId・typeを正しく指定してください"})
			return
		}

		n, err := s.fanout.Create(c.Request.Context(), req.FandomID, req.NotifierID, req.Type)
		if err != nil {
			writeError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleDeleteNotification は通知と関連する既読状態を削除するハンドラ。
func (s *Server) handleDeleteNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		notificationID, ok := parseID(c, "id")
		if !ok {
			return
		}
		if err := s.fanout.Delete(c.Request.Context(), notificationID); err != nil {
			writeError(c, err, "通知の削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// handleDeleteByNotifier は投稿やイベントの削除に伴い通知を一括削除するハンドラ。
func (s *Server) handleDeleteByNotifier() gin.HandlerFunc {
	return func(c *gin.Context) {
		typ := event.NotificationType(c.Query("type"))
		notifierID, err := strconv.ParseInt(c.Query("notifierId"), 10, 64)
		if !typ.Valid() || err != nil || notifierID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "typeとnotifierIdを正しく指定してください"})
			return
		}

		deleted, err := s.fanout.DeleteByNotifier(c.Request.Context(), typ, notifierID)
		if err != nil {
			writeError(c, err, "通知の削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}
