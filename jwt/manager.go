package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLength = 32

// ErrTokenInvalid is returned for any parse or verification failure:
// bad signature, expired, wrong token class, malformed claims.
var ErrTokenInvalid = errors.New("invalid token")

// Config holds the two signing secrets and lifetimes. Access and refresh
// tokens are signed with independent secrets so a leaked access secret
// cannot mint refresh tokens. Secrets are immutable for the process
// lifetime; rotating them invalidates every outstanding token.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the signed payload shared by both token classes.
type Claims struct {
	Email       string `json:"email"`
	Role        string `json:"role"`
	MasterAdmin bool   `json:"isMasterAdmin"`
	jwt.RegisteredClaims
}

// Manager mints and verifies HS256 access and refresh tokens. It is
// immutable after construction and safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates the configuration and fails fast on weak or
// shared secrets.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) < minSecretLength {
		return nil, errors.New("access secret must be at least 32 bytes")
	}
	if len(cfg.RefreshSecret) < minSecretLength {
		return nil, errors.New("refresh secret must be at least 32 bytes")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// SignAccess mints a short-lived access token.
func (m *Manager) SignAccess(sub, email, role string, masterAdmin bool) (string, error) {
	return m.sign(sub, email, role, masterAdmin, m.config.AccessSecret, m.config.AccessTTL)
}

// SignRefresh mints a refresh token. Callers persist its hash, never the
// plaintext.
func (m *Manager) SignRefresh(sub, email, role string, masterAdmin bool) (string, error) {
	return m.sign(sub, email, role, masterAdmin, m.config.RefreshSecret, m.config.RefreshTTL)
}

// ParseAccess verifies an access token and returns its claims.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	return m.parse(token, m.config.AccessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims. A valid
// access token presented here fails: the secrets differ.
func (m *Manager) ParseRefresh(token string) (*Claims, error) {
	return m.parse(token, m.config.RefreshSecret)
}

func (m *Manager) sign(sub, email, role string, masterAdmin bool, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:       email,
		Role:        role,
		MasterAdmin: masterAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) parse(token string, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
