package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/appgate/internal/config"
	"github.com/pitabwire/appgate/model"
)

const (
	tokenLeeway     = 30 * time.Second
	maxKeySetBytes  = 1 << 20
	keySetFetchWait = 10 * time.Second
)

var (
	errMissingCredential = errors.New("missing authorization header")
	errNotBearer         = errors.New("authorization header is not a bearer credential")
	errMissingKeyID      = errors.New("token header has no kid")

	// ErrUnknownSigningKey is returned when the key set has no key for a
	// token's kid, even after a refresh.
	ErrUnknownSigningKey = errors.New("jwks: unknown signing key")
)

// EndUserCredential is the caller credential accepted by the authenticator.
// Token is forwarded to the gateway as the end user token; when Verified is
// set it is exactly the token whose signature and claims were checked.
type EndUserCredential struct {
	Token     string
	Verified  bool
	Subject   string
	ExpiresAt time.Time
}

type credentialKey struct{}

// WithCredential stores the accepted end user credential in the context.
func WithCredential(ctx context.Context, cred EndUserCredential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFrom returns the credential stored by an authenticator.
func CredentialFrom(ctx context.Context) (EndUserCredential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(EndUserCredential)
	return cred, ok
}

// parseBearer extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func parseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingCredential
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errNotBearer
	}
	return token, nil
}

// jsonWebKey is the subset of RFC 7517 members needed for RSA and EC
// verification keys.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		return k.rsaKey()
	case "EC":
		return k.ecKey()
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func (k jsonWebKey) rsaKey() (*rsa.PublicKey, error) {
	n, err := decodeKeyInt("n", k.N)
	if err != nil {
		return nil, err
	}
	e, err := decodeKeyInt("e", k.E)
	if err != nil {
		return nil, err
	}
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, fmt.Errorf("invalid RSA exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func (k jsonWebKey) ecKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}
	x, err := decodeKeyInt("x", k.X)
	if err != nil {
		return nil, err
	}
	y, err := decodeKeyInt("y", k.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func decodeKeyInt(member, value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("missing %s", member)
	}
	b, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", member, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// JWKSClient fetches and caches the identity provider's signing keys.
// Concurrent refreshes share one request.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	fetches    singleflight.Group

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewJWKSClient creates a key set client for url whose keys are trusted for
// ttl after each fetch. A nil logger discards output.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		httpClient: &http.Client{Timeout: keySetFetchWait},
		logger:     logger,
		keys:       make(map[string]crypto.PublicKey),
	}
}

func (c *JWKSClient) snapshot() (map[string]crypto.PublicKey, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys, c.fetchedAt
}

// GetKey returns the verification key for kid. A stale or missing key
// triggers a refresh; when the refresh fails a previously fetched key is
// still served.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	keys, fetchedAt := c.snapshot()
	if key, ok := keys[kid]; ok && time.Since(fetchedAt) <= c.ttl {
		return key, nil
	}

	if _, err, _ := c.fetches.Do("keys", func() (any, error) { return nil, c.refresh() }); err != nil {
		if key, ok := keys[kid]; ok {
			c.logger.Warn("jwks: refresh failed, serving cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch failed: %w", err)
	}

	keys, _ = c.snapshot()
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownSigningKey, kid)
}

func (c *JWKSClient) refresh() error {
	keys, fetchedAt := c.snapshot()
	if len(keys) > 0 && time.Since(fetchedAt) < c.minRefresh {
		return nil
	}

	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&set); err != nil {
		return fmt.Errorf("jwks: parse error: %w", err)
	}

	fresh := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		// Encryption keys are never used to verify caller tokens.
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		key, err := k.publicKey()
		if err != nil {
			c.logger.Warn("jwks: skipping key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		fresh[k.Kid] = key
	}

	c.mu.Lock()
	c.keys = fresh
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// JWTAuthenticator returns middleware that verifies the caller's bearer
// token against the key set. On success the verified claims and the
// verified credential are stored in the request context.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
	)
	keyFor := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKeyID
		}
		return jwks.GetKey(kid)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := parseBearer(r.Header.Get("Authorization"))
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(rejectionReason(err)))
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFor)
			if err != nil || !token.Valid {
				WriteError(w, model.NewUnauthorizedError(rejectionReason(err)))
				return
			}

			cred := EndUserCredential{Token: raw, Verified: true}
			cred.Subject, _ = claims.GetSubject()
			if exp, _ := claims.GetExpirationTime(); exp != nil {
				cred.ExpiresAt = exp.Time
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			ctx = WithCredential(ctx, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rejectionReason maps an authentication failure to the message returned
// to the caller.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, errMissingCredential):
		return "Missing authorization header"
	case errors.Is(err, errNotBearer):
		return "Invalid authorization header format"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, errMissingKeyID), errors.Is(err, ErrUnknownSigningKey):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

// PassthroughAuthenticator is used when identity verification is disabled.
// The bearer token is forwarded to the gateway unverified, which is then
// the authority on the end user. Requests without one proceed anonymously.
func PassthroughAuthenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := parseBearer(r.Header.Get("Authorization"))
		switch {
		case errors.Is(err, errMissingCredential):
			next.ServeHTTP(w, r)
		case err != nil:
			WriteError(w, model.NewUnauthorizedError(rejectionReason(err)))
		default:
			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), EndUserCredential{Token: raw})))
		}
	})
}

// NewAuthenticator returns the JWT authenticator when identity verification
// is enabled, and the passthrough authenticator otherwise.
func NewAuthenticator(cfg config.IdentityConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return PassthroughAuthenticator
	}
	return JWTAuthenticator(cfg, NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL, logger))
}
