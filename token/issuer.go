// Package token issues and verifies the signed access/refresh token pair
// bound to a session. Access and refresh tokens are separate credential
// classes with distinct signing material: leaking one never compromises
// the other.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned when a token is past its exp claim.
var ErrExpired = errors.New("token: expired")

// ErrBadSignature covers tampered, corrupted, or otherwise unparseable
// tokens.
var ErrBadSignature = errors.New("token: bad signature")

// ErrInvalidType is returned when a structurally valid token carries a
// typ claim other than the one the caller expects. It is what stops a
// refresh token from being replayed as an access token and vice versa.
var ErrInvalidType = errors.New("token: unexpected token type")

// Type distinguishes the two token classes.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the decoded, validated view of a token.
type Claims struct {
	SubjectID string
	SessionID string
	TenantID  string
	Type      Type
	ExpiresAt time.Time
}

// Pair is one issued access+refresh token set. ExpiresIn is the access
// token lifetime in seconds, the shape clients expect in login responses.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Config carries the signing material and lifetimes for an [Issuer].
//
// When RSAPrivateKeyPEM is set, access tokens are signed RS256 with it;
// otherwise HS256 with AccessSecret. Refresh tokens are always HS256
// with RefreshSecret, which must be set and must differ from
// AccessSecret.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	AccessSecret     []byte
	RefreshSecret    []byte
	RSAPrivateKeyPEM []byte

	Issuer string
}

// Issuer creates and verifies token pairs. The signing algorithm for the
// access class is chosen once in [NewIssuer] from the available key
// material and is transparent to callers.
type Issuer struct {
	cfg          Config
	accessMethod jwt.SigningMethod
	rsaKey       *rsa.PrivateKey
}

type tokenClaims struct {
	Type      string `json:"typ"`
	SessionID string `json:"sid"`
	TenantID  string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// NewIssuer validates cfg and fixes the access signing method for the
// process lifetime.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: access and refresh TTLs must be positive")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: refresh secret required")
	}

	iss := &Issuer{cfg: cfg}

	if len(cfg.RSAPrivateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.RSAPrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("token: invalid RSA private key: %w", err)
		}
		iss.rsaKey = key
		iss.accessMethod = jwt.SigningMethodRS256
		return iss, nil
	}

	if len(cfg.AccessSecret) == 0 {
		return nil, errors.New("token: access secret required without RSA key")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	iss.accessMethod = jwt.SigningMethodHS256

	return iss, nil
}

// Issue creates a fresh token pair for the given session binding.
func (i *Issuer) Issue(subjectID, sessionID, tenantID string) (Pair, error) {
	access, err := i.sign(TypeAccess, subjectID, sessionID, tenantID, i.cfg.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(TypeRefresh, subjectID, sessionID, tenantID, i.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.cfg.AccessTTL / time.Second),
	}, nil
}

func (i *Issuer) sign(typ Type, subjectID, sessionID, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Type:      string(typ),
		SessionID: sessionID,
		TenantID:  tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.cfg.Issuer,
		},
	}

	method, key := i.materialFor(typ)
	return jwt.NewWithClaims(method, claims).SignedString(key)
}

// Verify validates token against the expected class and returns its
// claims. A token signed for the other class fails with ErrInvalidType,
// not ErrBadSignature, so callers can distinguish misuse from tampering.
func (i *Issuer) Verify(token string, expected Type) (*Claims, error) {
	claims, err := i.parse(token, expected)
	if err == nil {
		if Type(claims.Type) != expected {
			return nil, ErrInvalidType
		}
		return i.toClaims(claims), nil
	}
	if errors.Is(err, ErrExpired) {
		return nil, err
	}

	// The signature did not check out against the expected class. If the
	// token verifies under the other class's material, the caller handed
	// us the wrong token kind rather than a forged one.
	other := TypeRefresh
	if expected == TypeRefresh {
		other = TypeAccess
	}
	if _, crossErr := i.parse(token, other); crossErr == nil || errors.Is(crossErr, ErrExpired) {
		return nil, ErrInvalidType
	}

	return nil, err
}

func (i *Issuer) parse(token string, typ Type) (*tokenClaims, error) {
	method, signKey := i.materialFor(typ)

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
	}
	if i.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.cfg.Issuer))
	}

	verifyKey := signKey
	if method == jwt.SigningMethodRS256 {
		verifyKey = &i.rsaKey.PublicKey
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrBadSignature
	}
	return claims, nil
}

func (i *Issuer) materialFor(typ Type) (jwt.SigningMethod, interface{}) {
	if typ == TypeRefresh {
		return jwt.SigningMethodHS256, i.cfg.RefreshSecret
	}
	if i.accessMethod == jwt.SigningMethodRS256 {
		return jwt.SigningMethodRS256, i.rsaKey
	}
	return jwt.SigningMethodHS256, i.cfg.AccessSecret
}

func (i *Issuer) toClaims(c *tokenClaims) *Claims {
	out := &Claims{
		SubjectID: c.Subject,
		SessionID: c.SessionID,
		TenantID:  c.TenantID,
		Type:      Type(c.Type),
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
