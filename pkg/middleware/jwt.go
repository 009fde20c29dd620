package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証基盤が発行したトークンから数値のユーザーIDを取り出すために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。サービス間トークンでは0。
	UserID int64 `json:"user_id"`
	// Role はトークンの利用者の種別。エンドユーザーのトークンでは空。
	Role string `json:"role,omitempty"`
}

// RoleService は内部APIを呼び出すサービス間トークンのロール。
const RoleService = "service"

// ContextKeyUserID はGinコンテキストにユーザーIDを格納するキー。
const ContextKeyUserID = "user_id"

// ContextKeyRole はGinコンテキストにロールを格納するキー。
const ContextKeyRole = "role"

// queryKeyAccessToken はWebSocket接続時にトークンを渡すクエリパラメータ名。
// ブラウザのWebSocket APIは任意のヘッダーを付与できないため、この経路も受け付ける。
const queryKeyAccessToken = "access_token"

// issuer はこのサービス群が発行するトークンのIssuer。
const issuer = "fandomfeed"

// GenerateJWT はユーザーIDからJWTトークンを生成する。
// 開発用ツールとテストから呼び出す。本番のトークン発行は認証基盤が担う。
func GenerateJWT(secret string, userID int64) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// GenerateServiceJWT はサービス間呼び出し用のJWTトークンを生成する。
// ユーザーIDを持たず、RoleServiceのロールとsubjectに呼び出し元のサービス名を持つ。
func GenerateServiceJWT(secret, subject string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   subject,
		},
		Role: RoleService,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// Authorizationヘッダー、またはaccess_tokenクエリパラメータからトークンを取得する。
// 検証に成功した場合、コンテキストに "user_id"（int64）と "role" を設定する。
// ユーザーIDを持たないトークンはサービス間トークンの場合のみ受け付ける。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, errMsg := extractToken(c)
		if errMsg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}
		if claims.UserID <= 0 && claims.Role != RoleService {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンにユーザーIDが含まれていません",
			})
			return
		}

		if claims.UserID > 0 {
			c.Set(ContextKeyUserID, claims.UserID)
		}
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole は指定ロールのトークンだけを通すGinミドルウェアを返す。
// JWTAuthの後に適用する。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// extractToken はリクエストからトークン文字列を取り出す。
// 取り出せない場合はエラーメッセージを返す。
func extractToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query(queryKeyAccessToken); q != "" {
			return q, ""
		}
		return "", "Authorizationヘッダーが必要です"
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return "", "Bearer トークン形式が不正です"
	}
	return tokenString, ""
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
