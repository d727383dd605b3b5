package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"plainspeak/internal/config"
)

var warnOnce sync.Once

var (
	errAuthRequired       = errors.New("authentication required")
	errInvalidCredentials = errors.New("invalid credentials")
)

// AdminKey is the key that unlocks the admin API and signs its tokens.
func AdminKey() string {
	if v := strings.TrimSpace(os.Getenv("PLAINSPEAK_ADMIN_KEY")); v != "" {
		return v
	}
	warnOnce.Do(func() {
		config.Logger.Warn("PLAINSPEAK_ADMIN_KEY is not set, using insecure default \"admin\"")
	})
	return "admin"
}

func jwtSecret() string {
	if v := strings.TrimSpace(os.Getenv("PLAINSPEAK_JWT_SECRET")); v != "" {
		return v
	}
	return AdminKey()
}

func jwtExpireHours() int {
	if v := strings.TrimSpace(os.Getenv("PLAINSPEAK_JWT_EXPIRE_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 24
}

// CreateJWT issues an HS256 admin token. A non-positive expireHours uses the
// configured default.
func CreateJWT(expireHours int) (string, error) {
	if expireHours <= 0 {
		expireHours = jwtExpireHours()
	}
	header := map[string]any{"alg": "HS256", "typ": "JWT"}
	payload := map[string]any{"iat": time.Now().Unix(), "exp": time.Now().Add(time.Duration(expireHours) * time.Hour).Unix(), "role": "admin"}
	h, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	p, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	headerB64 := rawB64Encode(h)
	payloadB64 := rawB64Encode(p)
	msg := headerB64 + "." + payloadB64
	sig := signHS256(msg)
	return msg + "." + rawB64Encode(sig), nil
}

func VerifyJWT(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token format")
	}
	msg := parts[0] + "." + parts[1]
	expected := signHS256(msg)
	actual, err := rawB64Decode(parts[2])
	if err != nil {
		return nil, errors.New("invalid signature")
	}
	if !hmac.Equal(expected, actual) {
		return nil, errors.New("invalid signature")
	}
	payloadBytes, err := rawB64Decode(parts[1])
	if err != nil {
		return nil, errors.New("invalid payload")
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, errors.New("invalid payload")
	}
	exp, _ := payload["exp"].(float64)
	if int64(exp) < time.Now().Unix() {
		return nil, errors.New("token expired")
	}
	return payload, nil
}

// VerifyAdminRequest accepts a bearer token that is either the admin key or
// a valid admin JWT.
func VerifyAdminRequest(r *http.Request) error {
	token, ok := BearerToken(r)
	if !ok {
		return errAuthRequired
	}
	if hmac.Equal([]byte(token), []byte(AdminKey())) {
		return nil
	}
	if _, err := VerifyJWT(token); err == nil {
		return nil
	}
	return errInvalidCredentials
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[7:])
	return token, token != ""
}

func signHS256(msg string) []byte {
	h := hmac.New(sha256.New, []byte(jwtSecret()))
	_, _ = h.Write([]byte(msg))
	return h.Sum(nil)
}

func rawB64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func rawB64Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
