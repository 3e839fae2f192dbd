// Package token issues and verifies the two credentials handed to clients:
// short-lived HMAC-signed access JWTs and opaque refresh tokens.
//
// Refresh tokens carry no payload. Only their SHA-256 hex digest is ever
// persisted or compared; the raw value leaves the process exactly once.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AtoyanMikhail/sessionauth/internal/apperr"
)

const (
	TypeAccess = "access"

	refreshTokenBytes = 32
	minSecretBytes    = 32
)

// reserved claims are always set by the codec and cannot be overridden by extras.
var reserved = map[string]struct{}{
	"sub": {}, "type": {}, "iat": {}, "exp": {}, "ver": {}, "iss": {},
}

type Config struct {
	Secret     []byte
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Codec struct {
	config Config
	method *jwt.SigningMethodHMAC
	now    func() time.Time
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	Subject   string
	Type      string
	Version   int
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]interface{}
}

// RefreshToken is a freshly minted refresh credential. Raw must be handed to
// the client and then dropped; Hash is what gets stored.
type RefreshToken struct {
	Raw       string
	Hash      string
	UserID    string
	FamilyID  string
	ExpiresAt time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh token ttl must exceed access token ttl")
	}

	var method *jwt.SigningMethodHMAC
	switch cfg.Algorithm {
	case "HS256", "":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	return &Codec{config: cfg, method: method, now: time.Now}, nil
}

// AccessTTL is the lifetime given to every access token.
func (c *Codec) AccessTTL() time.Duration {
	return c.config.AccessTTL
}

// RefreshTTL is the lifetime given to every refresh token.
func (c *Codec) RefreshTTL() time.Duration {
	return c.config.RefreshTTL
}

// IssueAccessToken signs {sub, type, iat, exp, ver} plus any extra claims.
func (c *Codec) IssueAccessToken(userID string, tokenVersion int, extra map[string]interface{}) (string, error) {
	now := c.now()

	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, ok := reserved[k]; ok {
			continue
		}
		claims[k] = v
	}
	claims["sub"] = userID
	claims["type"] = TypeAccess
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(c.config.AccessTTL))
	claims["ver"] = tokenVersion
	if c.config.Issuer != "" {
		claims["iss"] = c.config.Issuer
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// DecodeAccessToken verifies signature, expiry and the presence of sub, iat,
// exp and type. Any failure is reported as a TokenInvalid app error. Checking
// type and version against the user is left to the caller.
func (c *Codec) DecodeAccessToken(tokenString string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(c.now),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return c.config.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperr.TokenInvalid("")
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.TokenInvalid("")
	}

	out, err := toAccessClaims(mc)
	if err != nil {
		return nil, apperr.TokenInvalid("")
	}
	return out, nil
}

func toAccessClaims(mc jwt.MapClaims) (*AccessClaims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing sub")
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, errors.New("missing iat")
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errors.New("missing exp")
	}
	typ, ok := mc["type"].(string)
	if !ok || typ == "" {
		return nil, errors.New("missing type")
	}

	// Absent or non-integer versions can never match a stored token_version.
	version := -1
	if n, ok := mc["ver"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			version = int(v)
		}
	}

	extra := make(map[string]interface{})
	for k, v := range mc {
		if _, ok := reserved[k]; !ok {
			extra[k] = v
		}
	}

	return &AccessClaims{
		Subject:   sub,
		Type:      typ,
		Version:   version,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		Extra:     extra,
	}, nil
}

// IssueRefreshToken mints a high-entropy opaque token for userID in familyID.
func (c *Codec) IssueRefreshToken(userID, familyID string) (*RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	return &RefreshToken{
		Raw:       raw,
		Hash:      HashToken(raw),
		UserID:    userID,
		FamilyID:  familyID,
		ExpiresAt: c.now().Add(c.config.RefreshTTL).UTC(),
	}, nil
}

// HashToken returns the hex SHA-256 digest used to store and look up refresh tokens.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
