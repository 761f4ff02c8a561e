package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

// Authenticator hashes passwords and issues HMAC-signed bearer tokens for
// API clients such as ktqctl.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

type tokenClaims struct {
	Sub      string `json:"sub"`
	Username string `json:"username"`
	Iat      int64  `json:"iat"`
	Exp      int64  `json:"exp"`
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return NewAuthenticatorWithClock(secret, ttl, clockwork.NewRealClock())
}

func NewAuthenticatorWithClock(secret string, ttl time.Duration, clock clockwork.Clock) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, clock: clock}
}

func (a *Authenticator) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *Authenticator) VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (a *Authenticator) GenerateToken(userID, username string) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	now := a.clock.Now().UTC()
	claims := tokenClaims{Sub: userID, Username: username, Iat: now.Unix(), Exp: now.Add(a.ttl).Unix()}

	headerRaw, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsRaw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	head := base64.RawURLEncoding.EncodeToString(headerRaw)
	body := base64.RawURLEncoding.EncodeToString(claimsRaw)
	sig := a.sign(head + "." + body)
	return head + "." + body + "." + sig, nil
}

// ParseToken verifies the signature and expiry and returns the user id and
// username carried by the token.
func (a *Authenticator) ParseToken(token string) (string, string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", ErrInvalidToken
	}

	expected := a.sign(parts[0] + "." + parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return "", "", ErrInvalidToken
	}

	claimsBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		return "", "", ErrInvalidToken
	}
	if claims.Sub == "" || claims.Username == "" || claims.Exp <= a.clock.Now().UTC().Unix() {
		return "", "", ErrInvalidToken
	}
	return claims.Sub, claims.Username, nil
}

func (a *Authenticator) sign(payload string) string {
	h := hmac.New(sha256.New, a.secret)
	_, _ = h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
