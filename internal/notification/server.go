package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/fandomfeed/pkg/httpclient"
	"github.com/nao1215/fandomfeed/pkg/middleware"
	"github.com/nao1215/fandomfeed/pkg/realtime"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// hub は接続中のWebSocketセッションを管理する。
	hub *realtime.Hub
	// fanout は通知の作成・削除と配信を担う。
	fanout *FanoutCoordinator
	// viewed はフィードの構築と既読状態の更新を担う。
	viewed *ViewedStateCoordinator
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースを開いてマイグレーションを適用し、ファンダムサービスのクライアントを構築する。
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	sqlDB, err := OpenDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	var clientOpts []httpclient.Option
	if cfg.FandomServiceToken != "" {
		clientOpts = append(clientOpts, httpclient.WithBearerToken(cfg.FandomServiceToken))
	}
	subscriptions := NewHTTPSubscriptionIndex(httpclient.New(cfg.FandomServiceURL, clientOpts...))

	hub := realtime.NewHub(
		realtime.WithSendBuffer(cfg.RealtimeSendBuffer),
		realtime.WithOriginCheck(middleware.OriginMatcher(cfg.AllowedOrigins)),
	)
	return newServer(cfg, sqlDB, subscriptions, hub), nil
}

// newServer は依存を受け取ってサーバーを組み立てる。
func newServer(cfg Config, sqlDB *sql.DB, subscriptions SubscriptionIndex, hub *realtime.Hub, opts ...CoordinatorOption) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router: router,
		cfg:    cfg,
		db:     sqlDB,
		hub:    hub,
		fanout: NewFanoutCoordinator(sqlDB, subscriptions, hub, opts...),
		viewed: NewViewedStateCoordinator(sqlDB, subscriptions, opts...),
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
// 停止時はWebSocketセッションをすべて切断し、データベースを閉じる。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		log.Printf("通知サービスを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
	}

	s.hub.Close()
	if err := s.db.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("データベースのクローズに失敗: %w", err)
	}
	return runErr
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		// フィード
		api.GET("/feed", s.handleGetFeed())
		api.GET("/feed/:id", s.handleGetFeedEntry())

		// 既読・非表示状態
		viewed := api.Group("/viewed")
		{
			viewed.POST("", s.handleMarkViewed())
			viewed.DELETE("", s.handleUnmark())
			viewed.POST("/hide", s.handleHide())
			viewed.POST("/unhide", s.handleUnhide())
		}

		// リアルタイム配信（WebSocket）
		api.GET("/realtime", s.handleRealtime())

		// 通知の作成・削除（内部API - コンテンツサービスがサービス間トークンで呼び出す）
		internal := api.Group("/internal/notifications")
		internal.Use(middleware.RequireRole(middleware.RoleService))
		{
			internal.POST("", s.handleCreateNotification())
			internal.DELETE("", s.handleDeleteByNotifier())
			internal.DELETE("/:id", s.handleDeleteNotification())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}
