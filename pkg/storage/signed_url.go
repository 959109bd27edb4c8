package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner creates and validates short-lived download tokens binding a
// principal to one stored object.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate returns a signed token for the subject and content id.
func (s *SignedURLSigner) Generate(subject, contentID string) (string, time.Time, error) {
	if subject == "" || contentID == "" {
		return "", time.Time{}, fmt.Errorf("subject and content id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedSubject := base64.RawURLEncoding.EncodeToString([]byte(subject))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	signature := s.sign(encodedSubject, ts, contentID)
	token := strings.Join([]string{encodedSubject, ts, contentID, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded subject and content id.
func (s *SignedURLSigner) Parse(token string) (subject, contentID string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", fmt.Errorf("invalid token format")
	}
	encodedSubject, ts, contentID, signature := parts[0], parts[1], parts[2], parts[3]

	expected := s.sign(encodedSubject, ts, contentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", "", fmt.Errorf("invalid token signature")
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("invalid timestamp")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", "", fmt.Errorf("token expired")
	}
	rawSubject, err := base64.RawURLEncoding.DecodeString(encodedSubject)
	if err != nil {
		return "", "", fmt.Errorf("decode subject: %w", err)
	}
	return string(rawSubject), contentID, nil
}

func (s *SignedURLSigner) sign(encodedSubject, ts, contentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encodedSubject + "|" + ts + "|" + contentID))
	return hex.EncodeToString(mac.Sum(nil))
}
