package folio

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const TokenIssuer = "folio"

var ErrNotSetUp = errors.New("server has not completed setup")

// SecretSource returns the server's current signing secret, or nil when
// setup has never completed.
type SecretSource func() []byte

// Gate authenticates clients. Connections are checked once at upgrade
// time; protected http paths are checked per request with the same token.
type Gate struct {
	secretSource SecretSource
}

func NewGate(secretSource SecretSource) *Gate {
	return &Gate{
		secretSource: secretSource,
	}
}

func (self *Gate) IssueToken(subject string, ttl time.Duration) (string, error) {
	secret := self.secretSource()
	if secret == nil {
		return "", ErrNotSetUp
	}
	now := time.Now()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   subject,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}

// VerifyToken checks signature, issuer and expiry. Returns the token
// subject on success.
func (self *Gate) VerifyToken(tokenStr string) (string, error) {
	secret := self.secretSource()
	if secret == nil {
		return "", ErrNotSetUp
	}
	token, err := gojwt.Parse(
		tokenStr,
		func(token *gojwt.Token) (any, error) {
			if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return secret, nil
		},
		gojwt.WithIssuer(TokenIssuer),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	return subject, nil
}

// BearerToken reads the token from the Authorization header or, for
// clients that cannot set headers on the handshake, the `token` query
// parameter. Empty when absent.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Authenticate applies the gate to one request. False when the token is
// missing, invalid, expired, or the server was never set up.
func (self *Gate) Authenticate(r *http.Request) bool {
	tokenStr := BearerToken(r)
	if tokenStr == "" {
		return false
	}
	_, err := self.VerifyToken(tokenStr)
	return err == nil
}
