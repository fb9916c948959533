// Package model contains the photo record types shared across packages.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedState is returned when a decoded collection breaks one of its
// invariants.
var ErrMalformedState = errors.New("malformed photo state")

// ImageDir is the data-dir subdirectory every image reference points into.
const ImageDir = "photos"

// PhotoRecord holds metadata about one captured photo. Struct tags keep the
// JSON keys stable so state files written by older builds still decode.
type PhotoRecord struct {
	ID                        uuid.UUID `json:"id"`
	CapturedAt                time.Time `json:"capturedAt"`
	ReadyAt                   time.Time `json:"readyAt"`
	IsUnlockedEarly           bool      `json:"isUnlockedEarly"`
	RequiresAdGateBeforeReady bool      `json:"requiresAdGateBeforeReady"`
	// ImageFileReference is relative to the store's data directory.
	ImageFileReference string `json:"imageFileReference"`
	// MemoDrawingData is an opaque annotation blob, base64 in JSON.
	MemoDrawingData []byte `json:"memoDrawingData,omitempty"`
}

// HasMemo reports whether an annotation is attached.
func (p PhotoRecord) HasMemo() bool {
	return p.MemoDrawingData != nil
}

// IsViewable reports whether the photo can be shown right now.
func (p PhotoRecord) IsViewable(isPremium bool) bool {
	return p.ViewableAt(isPremium, time.Now())
}

// ViewableAt is IsViewable evaluated at a fixed instant.
func (p PhotoRecord) ViewableAt(isPremium bool, now time.Time) bool {
	if isPremium || p.IsUnlockedEarly {
		return true
	}
	return !now.Before(p.ReadyAt)
}

// RemainingSeconds returns the whole seconds left until ReadyAt, never negative.
func (p PhotoRecord) RemainingSeconds(now time.Time) int {
	left := p.ReadyAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// RemainingTimeString formats the remaining time as MM:SS.
func (p PhotoRecord) RemainingTimeString(now time.Time) string {
	total := p.RemainingSeconds(now)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Clone returns a deep copy so callers cannot alias the memo bytes.
func (p PhotoRecord) Clone() PhotoRecord {
	if p.MemoDrawingData != nil {
		p.MemoDrawingData = append([]byte(nil), p.MemoDrawingData...)
	}
	return p
}

// CollectionState is the full persisted state: every record plus the
// premium flag. Photos keeps insertion order, oldest first.
type CollectionState struct {
	Photos    []PhotoRecord `json:"photos"`
	IsPremium bool          `json:"isPremium"`
}

// Clone returns a deep copy of the state.
func (s CollectionState) Clone() CollectionState {
	out := CollectionState{IsPremium: s.IsPremium}
	if s.Photos != nil {
		out.Photos = make([]PhotoRecord, len(s.Photos))
		for i, p := range s.Photos {
			out.Photos[i] = p.Clone()
		}
	}
	return out
}

// DecodeState parses a state file. Both top-level keys are required and
// every record must pass Validate; a partial file is never accepted.
func DecodeState(data []byte) (CollectionState, error) {
	var raw struct {
		Photos    *[]PhotoRecord `json:"photos"`
		IsPremium *bool          `json:"isPremium"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return CollectionState{}, fmt.Errorf("decode state: %w", err)
	}
	if raw.Photos == nil || raw.IsPremium == nil {
		return CollectionState{}, fmt.Errorf("%w: photos and isPremium are required", ErrMalformedState)
	}
	state := CollectionState{Photos: *raw.Photos, IsPremium: *raw.IsPremium}
	if err := state.Validate(); err != nil {
		return CollectionState{}, err
	}
	return state, nil
}

// Validate checks the invariants a decoded state must hold.
func (s CollectionState) Validate() error {
	seen := make(map[uuid.UUID]struct{}, len(s.Photos))
	for i, p := range s.Photos {
		if p.ID == uuid.Nil {
			return fmt.Errorf("%w: photo %d has no id", ErrMalformedState, i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrMalformedState, p.ID)
		}
		if p.CapturedAt.IsZero() || p.ReadyAt.IsZero() {
			return fmt.Errorf("%w: photo %s is missing a timestamp", ErrMalformedState, p.ID)
		}
		if !validReference(p.ImageFileReference) {
			return fmt.Errorf("%w: photo %s has bad image reference %q", ErrMalformedState, p.ID, p.ImageFileReference)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// validReference accepts only relative, slash-separated paths that stay
// inside ImageDir.
func validReference(ref string) bool {
	if ref == "" || strings.Contains(ref, "\\") || path.IsAbs(ref) {
		return false
	}
	clean := path.Clean(ref)
	return clean == ref && strings.HasPrefix(clean, ImageDir+"/") && len(clean) > len(ImageDir)+1
}

// Index returns the position of the record with id, or -1.
func (s CollectionState) Index(id uuid.UUID) int {
	for i := range s.Photos {
		if s.Photos[i].ID == id {
			return i
		}
	}
	return -1
}
