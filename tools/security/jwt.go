package security

import (
	"fmt"
	"strings"
	"time"

	"PPLive/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	pkgerrs "github.com/pkg/errors"
)

// Options controls signing and TTL.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // default 2h
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	ExpiresAt   time.Time
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate signs a token for userID. Token issuance belongs to the account
// service; the gateway only uses this in tests and local tooling.
func Generate(opts Options, userID, displayName string, scopes []string) (token string, expireAt time.Time, err error) {
	if userID == "" {
		return "", time.Time{}, errs.ErrArgs.WrapMsg("empty user id")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if displayName != "" {
		claims["name"] = displayName
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, pkgerrs.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Verify parses and validates token. Expired tokens map to errs.ErrTokenExpired,
// everything else to errs.ErrTokenInvalid.
func Verify(opts Options, token string) (*Identity, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		if pkgerrs.Is(err, jwtlib.ErrTokenExpired) {
			return nil, errs.ErrTokenExpired.WrapMsg(err.Error())
		}
		return nil, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errs.ErrTokenInvalid.WrapMsg("claims type mismatch")
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, errs.ErrTokenInvalid.WrapMsg("missing sub")
	}
	id := &Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	if raw, ok := claims["scope"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				id.Scopes = append(id.Scopes, str)
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unsupported alg", "alg", alg)
	}
}
