// auth.go — JWT аутентификация запросов к Resource Coordinator.
//
// Токены подписаны RS256, ключи берутся из JWKS identity-провайдера.
// Кроме sub и scopes токен участника несёт participant_id: такой токен
// управляет только выделениями и передачами своего участника.
// Токен оператора participant_id не содержит и ограничен лишь scopes.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
)

type contextKey string

const (
	// ContextKeySubject — sub токена.
	ContextKeySubject contextKey = "rc_subject"
	// ContextKeyScopes — scopes токена.
	ContextKeyScopes contextKey = "rc_scopes"
	// ContextKeyParticipant — participant_id токена участника.
	ContextKeyParticipant contextKey = "rc_participant"
)

const (
	// ScopeResourcesWrite — регистрация ресурсов, объекты, задачи, передачи
	ScopeResourcesWrite = "resources:write"
	// ScopeMonitorAdmin — закрытие алертов и обслуживание
	ScopeMonitorAdmin = "monitor:admin"
)

// Claims — claims токена Resource Coordinator.
// Scopes принимаются строкой "scope" (OAuth2) или массивом "scopes".
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
	// ParticipantID — участник, от имени которого выдан токен
	ParticipantID string `json:"participant_id,omitempty"`
	// Domain — человекочитаемая метка участника от identity-провайдера
	Domain string `json:"domain,omitempty"`
}

// Scopes возвращает scopes из обоих форматов без пустых значений.
func (c *Claims) Scopes() []string {
	result := slices.Clone(c.ScopeArray)
	for _, s := range strings.Fields(c.ScopeString) {
		if !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	return result
}

// JWTAuth проверяет Bearer токены по JWKS.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	leeway time.Duration
	logger *slog.Logger
}

// JWTAuthConfig — параметры JWKS клиента.
type JWTAuthConfig struct {
	JWKSURL         string
	CACertPath      string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	JWTLeeway       time.Duration
}

// NewJWTAuth создаёт JWTAuth с ключами из JWKS endpoint.
// Недоступность endpoint при старте не ошибка: ключи подтянутся при обновлении.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := jwksHTTPClient(authCfg)
	if err != nil {
		return nil, err
	}

	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("url", authCfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(kf, authCfg.JWTLeeway, logger), nil
}

func jwksHTTPClient(authCfg JWTAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if authCfg.CACertPath != "" {
		pem, err := os.ReadFile(authCfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("CA-сертификат %s: %w", authCfg.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA-сертификат %s: нет PEM-блоков", authCfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Timeout:   authCfg.ClientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWTAuth поверх готовой keyfunc.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		leeway: leeway,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// bearerToken извлекает токен из Authorization или возвращает текст ошибки.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// parse проверяет подпись, срок действия и наличие sub.
func (j *JWTAuth) parse(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, j.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if sub, _ := claims.GetSubject(); sub == "" {
		return nil, jwt.ErrTokenRequiredClaimMissing
	}
	return claims, nil
}

// Middleware требует валидный Bearer токен и кладёт его claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, problem := bearerToken(r)
			if problem != "" {
				apierrors.Unauthorized(w, problem)
				return
			}

			claims, err := j.parse(r.Context(), raw)
			if err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyScopes, claims.Scopes())
			if claims.ParticipantID != "" {
				ctx = context.WithValue(ctx, ContextKeyParticipant, claims.ParticipantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope пропускает запрос только при наличии scope.
// Ставится после JWTAuth.Middleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, ok := r.Context().Value(ContextKeyScopes).([]string)
			if !ok {
				apierrors.Forbidden(w, "Отсутствуют scopes в токене")
				return
			}
			if !slices.Contains(scopes, scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext возвращает sub токена или "".
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

// ScopesFromContext возвращает scopes токена или nil.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

// ParticipantFromContext возвращает participant_id токена участника или "".
func ParticipantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyParticipant).(string)
	return id
}

// ParticipantAllowed сообщает, может ли запрос действовать от имени participantID.
// Запросы без токена участника (оператор, аутентификация выключена) разрешены.
func ParticipantAllowed(ctx context.Context, participantID string) bool {
	bound := ParticipantFromContext(ctx)
	return bound == "" || bound == participantID
}
