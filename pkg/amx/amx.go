// Package amx implements the keyed-hash request authorization scheme shared
// with the exam proctoring provider. The same primitive signs outbound polling
// requests and verifies inbound webhook callbacks.
// No external dependencies - uses only standard library.
package amx

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Scheme is the authorization scheme name carried in the header.
const Scheme = "amx"

var (
	// ErrInvalidKey is returned when the shared api key is not valid base64.
	ErrInvalidKey = errors.New("amx: api key is not valid base64")

	// ErrMalformedHeader is returned when an authorization header does not
	// match "amx {appId}:{signature}:{nonce}:{timestamp}".
	ErrMalformedHeader = errors.New("amx: malformed authorization header")
)

// Header is a parsed amx authorization header.
type Header struct {
	AppID     string
	Signature string
	Nonce     string
	Timestamp string
}

// String renders the header in wire format.
func (h Header) String() string {
	return fmt.Sprintf("%s %s:%s:%s:%s", Scheme, h.AppID, h.Signature, h.Nonce, h.Timestamp)
}

// ParseHeader parses an "amx {appId}:{signature}:{nonce}:{timestamp}" value.
// Structural validation only; signature correctness is Verify's job.
func ParseHeader(value string) (Header, error) {
	value = strings.TrimSpace(value)
	scheme, rest, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, Scheme) {
		return Header{}, ErrMalformedHeader
	}
	parts := strings.Split(strings.TrimSpace(rest), ":")
	if len(parts) != 4 {
		return Header{}, ErrMalformedHeader
	}
	for _, p := range parts {
		if p == "" {
			return Header{}, ErrMalformedHeader
		}
	}
	return Header{
		AppID:     parts[0],
		Signature: parts[1],
		Nonce:     parts[2],
		Timestamp: parts[3],
	}, nil
}

// Sign computes the signature over the canonical request representation:
// appId || method || percentEncode(lowercase(uri)) || timestamp || nonce,
// keyed with the base64-decoded api key, HMAC-SHA256, base64 encoded.
func Sign(appID, apiKeyB64, method, uri, timestamp, nonce string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(apiKeyB64)
	if err != nil {
		return "", ErrInvalidKey
	}
	message := appID + method + url.QueryEscape(strings.ToLower(uri)) + timestamp + nonce
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature and compares it against the supplied one
// using a constant-time check. It returns false on any mismatch and does not
// distinguish malformed input from a wrong signature; callers validate
// structure (ParseHeader) before calling Verify.
func Verify(appID, apiKeyB64, method, uri, timestamp, nonce, signature string) bool {
	expected, err := Sign(appID, apiKeyB64, method, uri, timestamp, nonce)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Authorize produces a complete header value for an outbound request,
// generating the timestamp and nonce.
func Authorize(appID, apiKeyB64, method, uri string) (string, error) {
	timestamp := Timestamp(time.Now())
	nonce := NewNonce()
	signature, err := Sign(appID, apiKeyB64, method, uri, timestamp, nonce)
	if err != nil {
		return "", err
	}
	return Header{AppID: appID, Signature: signature, Nonce: nonce, Timestamp: timestamp}.String(), nil
}

// Timestamp renders t as whole seconds since the epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// NewNonce returns a per-request unique value: 128 random bits mixed with the
// current nanosecond clock so a broken entropy source alone cannot collide.
func NewNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable; the clock suffix keeps the
		// nonce unique within the process either way.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	return hex.EncodeToString(buf) + strconv.FormatInt(time.Now().UnixNano(), 36)
}
