package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestViewableGate(t *testing.T) {
	created := time.Date(2024, 8, 17, 12, 0, 0, 0, time.UTC)
	rec := PhotoRecord{
		ID:         uuid.New(),
		CapturedAt: created,
		ReadyAt:    created.Add(60 * time.Second),
	}

	if rec.ViewableAt(false, created) {
		t.Fatalf("expected gated photo to be hidden at capture time")
	}
	if !rec.ViewableAt(false, created.Add(60*time.Second)) {
		t.Fatalf("expected photo to be viewable once readyAt passes")
	}
	if !rec.ViewableAt(true, created) {
		t.Fatalf("expected premium to bypass the gate")
	}
	rec.IsUnlockedEarly = true
	if !rec.ViewableAt(false, created) {
		t.Fatalf("expected early unlock to bypass the gate")
	}
}

func TestViewableGateOrderIndependent(t *testing.T) {
	created := time.Date(2024, 8, 17, 12, 0, 0, 0, time.UTC)
	later := created.Add(61 * time.Second)
	tests := []struct {
		name    string
		premium bool
		early   bool
		now     time.Time
		want    bool
	}{
		{"none", false, false, created, false},
		{"elapsed", false, false, later, true},
		{"premium", true, false, created, true},
		{"early", false, true, created, true},
		{"premium and early", true, true, created, true},
		{"all three", true, true, later, true},
		{"early after elapse", false, true, later, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := PhotoRecord{CapturedAt: created, ReadyAt: created.Add(time.Minute), IsUnlockedEarly: tt.early}
			if got := rec.ViewableAt(tt.premium, tt.now); got != tt.want {
				t.Errorf("ViewableAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2024, 8, 17, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		readyAt time.Time
		secs    int
		str     string
	}{
		{now.Add(90*time.Second + 500*time.Millisecond), 90, "01:30"},
		{now.Add(59 * time.Second), 59, "00:59"},
		{now, 0, "00:00"},
		{now.Add(-time.Hour), 0, "00:00"},
	}
	for _, tt := range tests {
		rec := PhotoRecord{ReadyAt: tt.readyAt}
		if got := rec.RemainingSeconds(now); got != tt.secs {
			t.Errorf("RemainingSeconds(%v) = %d, want %d", tt.readyAt, got, tt.secs)
		}
		if got := rec.RemainingTimeString(now); got != tt.str {
			t.Errorf("RemainingTimeString(%v) = %q, want %q", tt.readyAt, got, tt.str)
		}
	}
}

func TestHasMemoAndClone(t *testing.T) {
	rec := PhotoRecord{}
	if rec.HasMemo() {
		t.Fatalf("expected no memo by default")
	}
	rec.MemoDrawingData = []byte{1, 2, 3}
	if !rec.HasMemo() {
		t.Fatalf("expected memo once data is attached")
	}
	cp := rec.Clone()
	cp.MemoDrawingData[0] = 9
	if rec.MemoDrawingData[0] != 1 {
		t.Fatalf("clone aliases memo bytes")
	}
}

func TestValidate(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 8, 17, 10, 0, 0, 0, time.UTC)
	rec := func(id uuid.UUID, ref string) PhotoRecord {
		return PhotoRecord{ID: id, CapturedAt: at, ReadyAt: at, ImageFileReference: ref}
	}
	good := CollectionState{Photos: []PhotoRecord{rec(id, "photos/a.jpg")}}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name  string
		state CollectionState
	}{
		{"nil id", CollectionState{Photos: []PhotoRecord{rec(uuid.Nil, "photos/a.jpg")}}},
		{"duplicate id", CollectionState{Photos: []PhotoRecord{rec(id, "photos/a.jpg"), rec(id, "photos/b.jpg")}}},
		{"no reference", CollectionState{Photos: []PhotoRecord{rec(id, "")}}},
		{"no capture time", CollectionState{Photos: []PhotoRecord{{ID: id, ReadyAt: at, ImageFileReference: "photos/a.jpg"}}}},
		{"no ready time", CollectionState{Photos: []PhotoRecord{{ID: id, CapturedAt: at, ImageFileReference: "photos/a.jpg"}}}},
		{"absolute reference", CollectionState{Photos: []PhotoRecord{rec(id, "/etc/passwd")}}},
		{"escaping reference", CollectionState{Photos: []PhotoRecord{rec(id, "photos/../../etc/passwd")}}},
		{"parent reference", CollectionState{Photos: []PhotoRecord{rec(id, "../../etc/passwd")}}},
		{"outside image dir", CollectionState{Photos: []PhotoRecord{rec(id, "appState.json")}}},
		{"bare image dir", CollectionState{Photos: []PhotoRecord{rec(id, "photos/")}}},
		{"backslashes", CollectionState{Photos: []PhotoRecord{rec(id, `photos\..\..\x`)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.state.Validate(); !errors.Is(err, ErrMalformedState) {
				t.Fatalf("expected ErrMalformedState, got %v", err)
			}
		})
	}
}

func TestDecodeState(t *testing.T) {
	id := uuid.New()
	valid := `{"photos":[{"id":"` + id.String() + `","capturedAt":"2024-08-17T10:00:00Z","readyAt":"2024-08-17T10:00:00Z","isUnlockedEarly":false,"requiresAdGateBeforeReady":false,"imageFileReference":"photos/a.jpg"}],"isPremium":true}`
	state, err := DecodeState([]byte(valid))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if !state.IsPremium || len(state.Photos) != 1 || state.Photos[0].ID != id {
		t.Fatalf("unexpected state %+v", state)
	}
	if _, err := DecodeState([]byte(`{"photos":[],"isPremium":false}`)); err != nil {
		t.Fatalf("empty collection should decode: %v", err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"empty object", `{}`},
		{"null", `null`},
		{"premium only", `{"isPremium":true}`},
		{"photos only", `{"photos":[]}`},
		{"null photos", `{"photos":null,"isPremium":false}`},
		{"record without timestamps", `{"photos":[{"id":"` + id.String() + `","imageFileReference":"photos/a.jpg"}],"isPremium":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeState([]byte(tt.content)); !errors.Is(err, ErrMalformedState) {
				t.Fatalf("expected ErrMalformedState, got %v", err)
			}
		})
	}
	if _, err := DecodeState([]byte(`{not json`)); err == nil || errors.Is(err, ErrMalformedState) {
		t.Fatalf("syntax errors should surface as decode errors, got %v", err)
	}
}
