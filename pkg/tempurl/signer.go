// Package tempurl generates and validates HMAC-SHA1 signed, time-bounded
// URLs for objects and prefixes, and manages the account-scoped signing key.
//
// Wire format (query parameters): temp_url_sig (hex HMAC-SHA1),
// temp_url_expires (decimal epoch seconds), optional ip.
package tempurl

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer produces signed URLs with a fixed key. Now is replaceable so tests
// can freeze the clock; a nil Now means time.Now.
type Signer struct {
	Key string
	Now func() time.Time
}

// NewSigner creates a Signer for the given key.
func NewSigner(key string) *Signer {
	return &Signer{Key: key}
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign computes the signature and expiry for a single object.
//
// objectPath is the server path component, e.g.
// /v1/AUTH_alice/docs/report.pdf. ip, when non-empty, binds the URL to a
// client address.
func (s *Signer) Sign(method, objectPath string, duration time.Duration, ip string) (sig string, expires int64) {
	expires = s.now().UTC().Unix() + int64(duration/time.Second)
	return s.signAt(method, objectPath, expires, ip), expires
}

// SignPrefix computes the signature and expiry for a path prefix. The
// method component of the string-to-sign becomes "prefix:<METHOD>"; the URL
// query parameters are unchanged.
func (s *Signer) SignPrefix(method, prefixPath string, duration time.Duration, ip string) (sig string, expires int64) {
	expires = s.now().UTC().Unix() + int64(duration/time.Second)
	return s.signAt("prefix:"+method, prefixPath, expires, ip), expires
}

// URL assembles the full signed URL for an object.
func (s *Signer) URL(base, method, objectPath string, duration time.Duration, ip string) string {
	sig, expires := s.Sign(method, objectPath, duration, ip)
	return assembleURL(base, objectPath, sig, expires, ip)
}

// PrefixURL assembles the full signed URL for a prefix.
func (s *Signer) PrefixURL(base, method, prefixPath string, duration time.Duration, ip string) string {
	sig, expires := s.SignPrefix(method, prefixPath, duration, ip)
	return assembleURL(base, prefixPath, sig, expires, ip)
}

// signAt computes hex(HMAC-SHA1(key, method \n expires \n path [\n ip=IP])).
func (s *Signer) signAt(method, objectPath string, expires int64, ip string) string {
	stringToSign := fmt.Sprintf("%s\n%d\n%s", method, expires, objectPath)
	if ip != "" {
		stringToSign += "\nip=" + ip
	}

	mac := hmac.New(sha1.New, []byte(s.Key))
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

func assembleURL(base, objectPath, sig string, expires int64, ip string) string {
	u := fmt.Sprintf("%s%s?temp_url_sig=%s&temp_url_expires=%d", base, objectPath, sig, expires)
	if ip != "" {
		u += "&ip=" + url.QueryEscape(ip)
	}
	return u
}

// Validation reasons for invalid URLs.
const (
	ReasonMissingParams    = "missing_params"
	ReasonExpired          = "expired"
	ReasonMalformedExpires = "malformed_expires"
)

// Validation is the result of checking a signed URL.
//
// The signature itself is not re-verified client-side (that would require
// the key); validity here means the URL is well-formed and unexpired. The
// server enforces the signature.
type Validation struct {
	Valid         bool
	ExpiresAt     time.Time
	TimeRemaining time.Duration
	IP            string
	Reason        string
}

// Validate parses a signed URL and reports whether it is still usable at
// the given instant.
func Validate(rawURL string, now time.Time) Validation {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Validation{Reason: ReasonMissingParams}
	}

	q := u.Query()
	sig := q.Get("temp_url_sig")
	expiresRaw := q.Get("temp_url_expires")
	if sig == "" || expiresRaw == "" {
		return Validation{Reason: ReasonMissingParams}
	}

	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil || expires <= 0 {
		return Validation{Reason: ReasonMalformedExpires}
	}

	expiresAt := time.Unix(expires, 0).UTC()
	if !now.Before(expiresAt) {
		return Validation{ExpiresAt: expiresAt, Reason: ReasonExpired}
	}

	return Validation{
		Valid:         true,
		ExpiresAt:     expiresAt,
		TimeRemaining: expiresAt.Sub(now),
		IP:            q.Get("ip"),
	}
}
