// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or subject checks.
var ErrInvalidToken = errors.New("invalid token")

// Keys signs and verifies player session tokens with an ed25519 key pair.
type Keys struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration // 0 means tokens never expire
}

// New generates a fresh key pair. Tokens it issues do not survive a restart.
func New(ttl time.Duration) (*Keys, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Keys{private: private, public: public, ttl: ttl}, nil
}

// NewFromFiles loads a raw ed25519 key pair from disk.
func NewFromFiles(privatePath, publicPath string, ttl time.Duration) (*Keys, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files are not raw ed25519 keys (got %d and %d bytes)", len(privateKeyData), len(publicKeyData))
	}
	return &Keys{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		ttl:     ttl,
	}, nil
}

// ParseTTL reads a token lifetime. "never", "0" and "" all mean no expiry.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "never" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("token expire time must not be negative: %s", s)
	}
	return d, nil
}

// CreateToken issues a signed token with "sub" = playerID.
func (k *Keys) CreateToken(playerID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": playerID.String(),
		"iat": now.Unix(),
	}
	if k.ttl > 0 {
		claims["exp"] = now.Add(k.ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(k.private)
}

// Verify checks a token and returns the player it was issued to.
func (k *Keys) Verify(tokenString string) (uuid.UUID, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return k.public, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: sub is not a player id: %v", ErrInvalidToken, err)
	}
	return id, nil
}
