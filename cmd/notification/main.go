// 通知サービスのエントリポイント。
// ファンダムの新着コンテンツを購読者へリアルタイムに配信し、
// ユーザーごとの既読・非表示状態を管理する。
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nao1215/fandomfeed/internal/notification"
	"github.com/nao1215/fandomfeed/pkg/telemetry"
)

func main() {
	// .envが無い環境（コンテナ等）では環境変数のみを使う。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf(".envの読み込みに失敗: %v", err)
	}

	if err := run(); err != nil {
		log.Fatalf("通知サービスの実行に失敗: %v", err)
	}
}

// run は設定を読み込み、シグナルを受け取るまでサーバーを実行する。
func run() error {
	cfg, err := notification.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "notification", cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("トレースの停止に失敗: %v", err)
		}
	}()

	server, err := notification.NewServer(ctx, cfg)
	if err != nil {
		return err
	}

	log.Printf("通知サービスを起動します: :%s", cfg.Port)
	return server.Run(ctx)
}
