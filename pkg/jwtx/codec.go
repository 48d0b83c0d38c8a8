package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CodecConfig configures a Codec.
type CodecConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      []string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
}

// Codec issues and verifies access and refresh tokens. Each type is signed
// with its own secret, so a leaked refresh secret cannot mint access tokens.
// Codec is stateless, blacklist checks belong to the caller.
type Codec struct {
	access          Signer
	refresh         Signer
	accessVerifier  Verifier
	refreshVerifier Verifier

	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration

	// Now is overridable for tests.
	Now func() time.Time
}

// Pair is an issued access/refresh token pair with the claims that went in.
type Pair struct {
	AccessToken   string
	RefreshToken  string
	AccessClaims  Claims
	RefreshClaims Claims
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("jwtx: access and refresh secrets must differ")
	}

	access, err := NewSignerHS256([]byte(cfg.AccessSecret))
	if err != nil {
		return nil, fmt.Errorf("access secret: %w", err)
	}
	refresh, err := NewSignerHS256([]byte(cfg.RefreshSecret))
	if err != nil {
		return nil, fmt.Errorf("refresh secret: %w", err)
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}

	opts := VerifyOptions{Issuer: cfg.Issuer, Audience: cfg.Audience, Leeway: cfg.Leeway}
	return &Codec{
		access:          access,
		refresh:         refresh,
		accessVerifier:  NewVerifierHS256([]byte(cfg.AccessSecret), opts),
		refreshVerifier: NewVerifierHS256([]byte(cfg.RefreshSecret), opts),
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		accessTTL:       cfg.AccessTTL,
		refreshTTL:      cfg.RefreshTTL,
		Now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// Issue signs a token of the given type for p with a fresh jti.
func (c *Codec) Issue(p Payload, typ TokenType) (string, Claims, error) {
	var (
		signer Signer
		ttl    time.Duration
	)
	switch typ {
	case TypeAccess:
		signer, ttl = c.access, c.accessTTL
	case TypeRefresh:
		signer, ttl = c.refresh, c.refreshTTL
	default:
		return "", Claims{}, fmt.Errorf("jwtx: unknown token type %q", typ)
	}

	claims := NewClaims(p, typ, ttl, c.issuer, c.audience, c.Now())
	token, err := signer.Sign(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("jwtx: sign %s token: %w", typ, err)
	}
	return token, claims, nil
}

// IssuePair signs an access and a refresh token bound to the same session.
func (c *Codec) IssuePair(p Payload) (Pair, error) {
	access, accessClaims, err := c.Issue(p, TypeAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshClaims, err := c.Issue(p, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

// Verify checks signature, issuer, audience, expiry and finally that the
// embedded type claim equals expected.
func (c *Codec) Verify(token string, expected TokenType) (Claims, error) {
	var v Verifier
	switch expected {
	case TypeAccess:
		v = c.accessVerifier
	case TypeRefresh:
		v = c.refreshVerifier
	default:
		return Claims{}, fmt.Errorf("jwtx: unknown token type %q", expected)
	}

	claims, err := v.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateType(expected); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// ExtractJTI reads the jti claim without verifying the signature. It returns
// false for malformed input or a token without a jti.
func ExtractJTI(token string) (string, bool) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", false
	}
	if claims.ID == "" {
		return "", false
	}
	return claims.ID, true
}
