// Package middleware содержит HTTP middleware сервиса программы лояльности.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const painterIDKey contextKey = "painterID"

const (
	authCookieName = "painter_token"
	authCookieTTL  = 30 * 24 * time.Hour

	// APIKeyHeader содержит ключ администратора.
	APIKeyHeader = "X-API-Key"
)

// AuthMiddleware проверяет личность маляра по подписанному cookie.
// Сервис доверяет идентификатору, прошедшему проверку подписи.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным, выданные cookie тогда действуют до перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		// crypto/rand.Read не возвращает ошибок начиная с Go 1.24.
		_, _ = rand.Read(key)
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет идентификатор маляра в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		painterID, ok := a.parseToken(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPainterID(r.Context(), painterID)))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного маляра.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, painterID int64) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(strconv.FormatInt(painterID, 10)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(idStr string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr))
	return idStr + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (int64, bool) {
	idStr, _, found := strings.Cut(token, ".")
	if !found {
		return 0, false
	}

	if !hmac.Equal([]byte(token), []byte(a.sign(idStr))) {
		return 0, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

// WithPainterID возвращает контекст с идентификатором маляра.
func WithPainterID(ctx context.Context, painterID int64) context.Context {
	return context.WithValue(ctx, painterIDKey, painterID)
}

// GetPainterIDFromContext извлекает идентификатор маляра из контекста запроса.
func GetPainterIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(painterIDKey).(int64)
	return id, ok
}

// APIKey пропускает запросы администратора только с верным заголовком X-API-Key.
// При пустом ключе все административные запросы отклоняются.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
