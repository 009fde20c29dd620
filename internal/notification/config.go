package notification

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// validate はリクエストと設定の検証に使うバリデーター。
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config は通知サービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8086" validate:"required,numeric"`
	// DBPath はSQLiteデータベースファイルのパス。":memory:" でインメモリになる。
	DBPath string `env:"NOTIFICATION_DB_PATH" envDefault:"/data/notification.db" validate:"required"`
	// JWTSecret はJWT署名検証用のシークレット。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key" validate:"required"`
	// FandomServiceURL は購読情報を提供するファンダムサービスのURL。
	FandomServiceURL string `env:"FANDOM_SERVICE_URL" envDefault:"http://localhost:8081" validate:"required,url"`
	// FandomServiceToken はファンダムサービスの内部APIに送るBearerトークン。
	FandomServiceToken string `env:"FANDOM_SERVICE_TOKEN"`
	// AllowedOrigins はCORSとWebSocketで許可するOrigin。"*" ですべて許可する。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	// RealtimeSendBuffer はWebSocketセッションごとの送信バッファサイズ。
	RealtimeSendBuffer int `env:"REALTIME_SEND_BUFFER" envDefault:"16" validate:"gt=0"`
	// OTELEndpoint はOTLP/HTTPトレースの送信先。空の場合はトレースを無効にする。
	OTELEndpoint string `env:"OTEL_ENDPOINT" validate:"omitempty,url"`
}

// LoadConfig は環境変数から設定を読み込み、検証する。
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("設定値が不正です: %w", err)
	}
	return cfg, nil
}
