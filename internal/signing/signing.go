// Package signing issues and checks HMAC signatures for expiring photo
// download links.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrExpired is returned for a well-formed link past its expiry.
	ErrExpired = errors.New("signed url expired")
	// ErrInvalid covers malformed parameters and signature mismatches.
	ErrInvalid = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for a photo and expiry.
func (s *Signer) Sign(photoID uuid.UUID, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", photoID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one.
func (s *Signer) Validate(photoID uuid.UUID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(photoID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// URL builds a download link for photoID under base that stays valid for ttl.
func (s *Signer) URL(base string, photoID uuid.UUID, ttl time.Duration) (string, time.Time) {
	expires := s.now().Add(ttl).Truncate(time.Second)
	q := url.Values{}
	q.Set("photo", photoID.String())
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", s.Sign(photoID, expires.Unix()))
	return base + "?" + q.Encode(), expires
}

// Verify checks the query of a link produced by URL and returns the photo id.
func (s *Signer) Verify(q url.Values) (uuid.UUID, error) {
	id, err := uuid.Parse(q.Get("photo"))
	if err != nil {
		return uuid.Nil, ErrInvalid
	}
	expires := q.Get("expires")
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return uuid.Nil, ErrInvalid
	}
	if !s.Validate(id, expires, q.Get("signature")) {
		return uuid.Nil, ErrInvalid
	}
	if time.Unix(exp, 0).Before(s.now()) {
		return uuid.Nil, ErrExpired
	}
	return id, nil
}
