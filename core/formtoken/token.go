// Package formtoken signs the edit links handed out to applicants after they submit a form.
// A token is bound to its subject (the form) and expires after a number of days.
package formtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	salt    = []byte("bhorti.core.formtoken")
	NowFunc = time.Now // mockable

	// errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Maker makes and verifies form tokens.
type Maker struct {
	secret []byte
	ttl    time.Duration
}

func NewMaker(secretKey string, ttl time.Duration) Maker {
	return Maker{secret: []byte(secretKey), ttl: ttl}
}

// Make generates a token for the given subject, e.g. "admission:<id>".
func (m Maker) Make(subject string) string {
	return m.makeWithTimestamp(subject, numDaysSince2001(NowFunc()))
}

// Verify checks that `token` was made for `subject` and has not expired.
func (m Maker) Verify(subject, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return ErrInvalidToken
	}

	data, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return ErrInvalidToken
	}

	// check that token has not been tampered with
	if subtle.ConstantTimeCompare([]byte(m.makeWithTimestamp(subject, ts)), []byte(token)) == 0 {
		return ErrInvalidToken
	}

	// check that the timestamp is within limit
	if (numDaysSince2001(NowFunc()) - ts) > int(m.ttl/(24*time.Hour)) {
		return ErrTokenExpired
	}
	return nil
}

func (m Maker) makeWithTimestamp(subject string, ts int) string {
	tsB32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(strconv.Itoa(ts)))
	return fmt.Sprintf("%s-%s", tsB32, m.sign(subject+"|"+strconv.Itoa(ts)))
}

func (m Maker) sign(val string) string {
	key := sha256.Sum256(append(append([]byte(nil), salt...), m.secret...))
	h := hmac.New(sha256.New, key[:])
	_, _ = h.Write([]byte(val))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func numDaysSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(t.Sub(ref).Hours() / 24))
}
