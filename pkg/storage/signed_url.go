package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered download tokens.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedFile is the metadata carried by a download token.
type SignedFile struct {
	OwnerID   string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates HMAC-signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns how long generated tokens stay valid.
func (s *SignedURLSigner) TTL() time.Duration {
	return s.ttl
}

// Generate returns a token binding the owner to a stored file path.
func (s *SignedURLSigner) Generate(ownerID, relPath string) (string, time.Time, error) {
	if ownerID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("owner and path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	owner := base64.RawURLEncoding.EncodeToString([]byte(ownerID))
	path := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{owner, ts, path, s.sign(owner, ts, path)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token. When allowExpired is true the expiry check is skipped.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (*SignedFile, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return nil, ErrInvalidToken
	}
	owner, ts, path, signature := parts[0], parts[1], parts[2], parts[3]
	if !hmac.Equal([]byte(s.sign(owner, ts, path)), []byte(signature)) {
		return nil, ErrInvalidToken
	}

	rawOwner, err := base64.RawURLEncoding.DecodeString(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidToken, err)
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(path)
	if err != nil {
		return nil, fmt.Errorf("%w: path: %v", ErrInvalidToken, err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp", ErrInvalidToken)
	}
	expiresAt := time.Unix(expUnix, 0)
	if !allowExpired && s.now().After(expiresAt) {
		return nil, ErrTokenExpired
	}
	return &SignedFile{OwnerID: string(rawOwner), Path: string(rawPath), ExpiresAt: expiresAt}, nil
}

func (s *SignedURLSigner) sign(owner, ts, path string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(owner + "|" + ts + "|" + path))
	return hex.EncodeToString(mac.Sum(nil))
}
