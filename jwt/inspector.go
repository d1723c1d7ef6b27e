package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects how an [Inspector] checks token signatures.
type SigningMethod string

const (
	// MethodNone reads claims without checking the signature. The backend
	// remains the authority; the claims only shorten the local window.
	MethodNone SigningMethod = ""
	// MethodEd25519 verifies EdDSA signatures against VerifyKey.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 verifies HMAC-SHA256 signatures with VerifyKey as secret.
	MethodHS256 SigningMethod = "hs256"
)

// ErrOpaqueToken is returned for tokens that do not parse as JWTs.
var ErrOpaqueToken = errors.New("token is not a jwt")

// Config configures an [Inspector].
type Config struct {
	SigningMethod SigningMethod
	// VerifyKey is the HS256 secret or the Ed25519 public key (raw or PEM).
	VerifyKey []byte
	Issuer    string
}

// Claims are the fields the session layer cares about.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Inspector extracts [Claims] from bearer tokens.
type Inspector struct {
	config    Config
	verifyKey interface{}
}

// NewInspector validates cfg and returns an [Inspector].
func NewInspector(cfg Config) (*Inspector, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	in := &Inspector{config: cfg}

	switch cfg.SigningMethod {
	case MethodNone:
	case MethodHS256:
		if len(cfg.VerifyKey) == 0 {
			return nil, errors.New("hs256 requires verify key")
		}
		in.verifyKey = cfg.VerifyKey
	case MethodEd25519:
		key, err := parseEdPublicKey(cfg.VerifyKey)
		if err != nil {
			return nil, err
		}
		in.verifyKey = key
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}
	return in, nil
}

// Inspect parses token and returns its claims. Time-based claims are not
// enforced here: an expired token still yields its claims so the caller can
// see when it expired.
func (i *Inspector) Inspect(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return nil, ErrOpaqueToken
	}

	claims := &Claims{}
	if i.config.SigningMethod == MethodNone {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
		}
	} else {
		options := []jwt.ParserOption{
			jwt.WithValidMethods([]string{i.method().Alg()}),
			jwt.WithoutClaimsValidation(),
		}
		parser := jwt.NewParser(options...)
		parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != i.method().Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return i.verifyKey, nil
		})
		if err != nil {
			return nil, err
		}
		if !parsed.Valid {
			return nil, jwt.ErrTokenInvalidClaims
		}
	}

	if i.config.Issuer != "" && claims.Issuer != i.config.Issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	return claims, nil
}

// ExpiresAt returns the token's exp claim. ok is false for opaque tokens,
// tokens without exp and tokens that fail verification.
func (i *Inspector) ExpiresAt(token string) (time.Time, bool) {
	claims, err := i.Inspect(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (i *Inspector) method() jwt.SigningMethod {
	switch i.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
