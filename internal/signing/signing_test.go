package signing

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	id := uuid.MustParse("6f1c1f1e-4f5b-4a55-9d0c-2b1de1c0a001")
	sig := s.Sign(id, 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate(id, "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate(uuid.New(), "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong photo id")
	}
	if s.Validate(id, "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if NewSigner([]byte("other")).Validate(id, "1700000000", sig) {
		t.Fatalf("expected validation to fail for another secret")
	}
}

func TestURLRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	id := uuid.New()

	link, expires := s.URL("/download", id, time.Minute)
	if !strings.HasPrefix(link, "/download?") {
		t.Fatalf("link = %q", link)
	}
	if !expires.Equal(now.Add(time.Minute)) {
		t.Fatalf("expires = %v", expires)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := s.Verify(u.Query())
	if err != nil || got != id {
		t.Fatalf("Verify = %v, %v; want %v", got, err, id)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Verify(u.Query()); !errors.Is(err, ErrExpired) {
		t.Fatalf("Verify after expiry = %v, want ErrExpired", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	id := uuid.New()
	link, _ := s.URL("/download", id, time.Hour)
	u, _ := url.Parse(link)

	tests := []struct {
		name  string
		tweak func(url.Values)
	}{
		{"other photo", func(q url.Values) { q.Set("photo", uuid.NewString()) }},
		{"bad photo", func(q url.Values) { q.Set("photo", "nope") }},
		{"later expiry", func(q url.Values) { q.Set("expires", "99999999999") }},
		{"bad expiry", func(q url.Values) { q.Set("expires", "soon") }},
		{"no signature", func(q url.Values) { q.Del("signature") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := u.Query()
			tt.tweak(q)
			if _, err := s.Verify(q); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Verify = %v, want ErrInvalid", err)
			}
		})
	}
}
