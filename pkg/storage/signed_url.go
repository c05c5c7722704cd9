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

// Link errors.
var (
	ErrLinkMalformed = errors.New("malformed download link")
	ErrLinkSignature = errors.New("download link signature mismatch")
	ErrLinkExpired   = errors.New("download link expired")
)

// Link is the content of a verified download token.
type Link struct {
	ScheduleID string
	Path       string
	ExpiresAt  time.Time
}

// LinkSigner issues and verifies HMAC-signed download tokens for stored files.
// Token layout: scheduleID.expiryUnix.base64(path).hexSignature
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewLinkSigner constructs a signer. A non-positive ttl defaults to one hour.
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl}
}

// Sign returns a token for path that expires ttl after now.
func (s *LinkSigner) Sign(scheduleID, path string, now time.Time) (string, time.Time, error) {
	if scheduleID == "" || path == "" {
		return "", time.Time{}, fmt.Errorf("%w: schedule id and path are required", ErrLinkMalformed)
	}
	if strings.Contains(scheduleID, ".") {
		return "", time.Time{}, fmt.Errorf("%w: schedule id contains a dot", ErrLinkMalformed)
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("signing secret missing")
	}
	expiresAt := now.Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(path))
	return strings.Join([]string{scheduleID, ts, encoded, s.signature(scheduleID, ts, encoded)}, "."), expiresAt, nil
}

// Verify checks the signature and expiry of token at now.
func (s *LinkSigner) Verify(token string, now time.Time) (Link, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return Link{}, ErrLinkMalformed
	}
	scheduleID, ts, encoded, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.signature(scheduleID, ts, encoded)), []byte(signature)) {
		return Link{}, ErrLinkSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Link{}, ErrLinkMalformed
	}
	path, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Link{}, ErrLinkMalformed
	}
	link := Link{ScheduleID: scheduleID, Path: string(path), ExpiresAt: time.Unix(unix, 0).UTC()}
	if now.After(link.ExpiresAt) {
		return link, ErrLinkExpired
	}
	return link, nil
}

func (s *LinkSigner) signature(scheduleID, ts, encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(scheduleID + "|" + ts + "|" + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
