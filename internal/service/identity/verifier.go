package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/blake2b"

	"github.com/jwalitptl/authz-api/internal/model"
)

var (
	ErrNoCredential      = errors.New("no credential presented")
	ErrInvalidCredential = errors.New("invalid credential")
)

// TokenVerifier turns a bearer credential into a verified identity
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

// Claims carried by access tokens
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 access tokens. Successful verifications are
// memoised until the sooner of token expiry and the memo TTL.
type JWTVerifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	memo   *gocache.Cache
	now    func() time.Time
}

func NewJWTVerifier(secret, issuer string, memoTTL time.Duration) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if memoTTL <= 0 {
		memoTTL = 5 * time.Minute
	}

	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    memoTTL,
		memo:   gocache.New(memoTTL, 2*memoTTL),
		now:    time.Now,
	}, nil
}

// Issue signs a token for subjectID valid for ttl
func (v *JWTVerifier) Issue(subjectID, email string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrNoCredential
	}

	key := digest(token)
	if cached, ok := v.memo.Get(key); ok {
		identity := cached.(model.Identity)
		if v.now().Before(identity.ExpiresAt) {
			return &identity, nil
		}
		v.memo.Delete(key)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	identity := model.Identity{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	memoFor := identity.ExpiresAt.Sub(v.now())
	if memoFor > v.ttl {
		memoFor = v.ttl
	}
	if memoFor > 0 {
		v.memo.Set(key, identity, memoFor)
	}

	return &identity, nil
}

// Forget drops every memoised verification
func (v *JWTVerifier) Forget() {
	v.memo.Flush()
}

// digest keeps raw tokens out of the memo keys
func digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
