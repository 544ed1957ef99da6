package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/akmatori/ticketbot/internal/api"
)

const tokenIssuer = "ticketbot"

// UserClaims are the claims carried by an admin session token
type UserClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuthConfig configures admin API authentication
type JWTAuthConfig struct {
	AdminUsername     string
	AdminPasswordHash string

	JWTSecret      string
	JWTExpiryHours int

	// SkipPaths bypass authentication. A trailing * matches by prefix.
	SkipPaths []string
}

// JWTAuthMiddleware issues and checks HS256 bearer tokens for the single
// configured admin account.
type JWTAuthMiddleware struct {
	config   JWTAuthConfig
	logger   *zap.Logger
	open     map[string]struct{}
	prefixes []string
	now      func() time.Time
}

type userContextKey struct{}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config JWTAuthConfig, logger *zap.Logger) *JWTAuthMiddleware {
	m := &JWTAuthMiddleware{
		config: config,
		logger: logger,
		open:   make(map[string]struct{}, len(config.SkipPaths)),
		now:    time.Now,
	}
	for _, path := range config.SkipPaths {
		if prefix, ok := strings.CutSuffix(path, "*"); ok {
			m.prefixes = append(m.prefixes, prefix)
			continue
		}
		m.open[path] = struct{}{}
	}
	return m
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// ExpiresIn returns the token lifetime in seconds
func (m *JWTAuthMiddleware) ExpiresIn() int {
	return int(m.lifetime() / time.Second)
}

func (m *JWTAuthMiddleware) lifetime() time.Duration {
	return time.Duration(m.config.JWTExpiryHours) * time.Hour
}

// GenerateToken signs a session token for username
func (m *JWTAuthMiddleware) GenerateToken(username string) (string, error) {
	issued := m.now()
	claims := UserClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(m.lifetime())),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.JWTSecret))
}

// ValidateToken checks signature, algorithm, issuer and expiry
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(m.config.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateCredentials checks a login attempt against the admin account
func (m *JWTAuthMiddleware) ValidateCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.config.AdminUsername)) == 1
	// bcrypt runs on every attempt, known username or not
	passOK := bcrypt.CompareHashAndPassword([]byte(m.config.AdminPasswordHash), []byte(password)) == nil
	return userOK && passOK
}

// Wrap requires a valid bearer token on every path not listed in SkipPaths
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isOpen(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "Missing authentication token")
			return
		}

		claims, err := m.ValidateToken(token)
		if err != nil {
			level := zap.WarnLevel
			if errors.Is(err, jwt.ErrTokenExpired) {
				level = zap.InfoLevel
			}
			m.logger.Log(level, "Rejected token",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
			unauthorized(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Username)))
	})
}

func (m *JWTAuthMiddleware) isOpen(path string) bool {
	if _, ok := m.open[path]; ok {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ticketbot"`)
	api.RespondErrorWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// WithUser returns ctx carrying the authenticated username
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userContextKey{}, username)
}

// GetUserFromContext returns the authenticated username, or "" for
// unauthenticated requests.
func GetUserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey{}).(string)
	return user
}
