// Package storage owns the photo collection: the in-memory list of records,
// its JSON state file and the image files the records point at.
//
// A Store is built explicitly with New and handed to whoever needs it. All
// mutations go through its methods, which serialize on a single lock and
// persist the full collection after every change.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/retom/internal/model"
)

const (
	// StateFileName is the well-known name of the state file inside the data dir.
	StateFileName = "appState.json"
	// ImageDirName holds one encoded image per photo.
	ImageDirName = model.ImageDir
	imageExt     = ".jpg"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("photo not found")
	// ErrPersist marks a failed write of the state file. The in-memory state
	// has still changed; durability is restored by the next successful save.
	ErrPersist = errors.New("persist state")
	// ErrEncode marks a capture whose image could not be encoded.
	ErrEncode = errors.New("encode image")
	// ErrWriteImage marks a capture whose image bytes could not be written.
	ErrWriteImage = errors.New("write image")
)

// writeFile replaces path atomically. Tests swap it to simulate crashes.
var writeFile = func(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// ImageProcessor turns a raw capture into the stored photo. The store only
// needs these two operations; pixel work lives elsewhere.
type ImageProcessor interface {
	Process(src image.Image, at time.Time) image.Image
	Encode(w io.Writer, img image.Image) error
}

// Config configures a Store.
type Config struct {
	// Dir is the per-app data directory.
	Dir       string
	Processor ImageProcessor
	Logger    logrus.FieldLogger
	// DevelopDelay is added to the capture time to get ReadyAt.
	DevelopDelay  time.Duration
	RequireAdGate bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is the single authoritative copy of the photo collection.
type Store struct {
	mu    sync.RWMutex
	state model.CollectionState

	dir          string
	statePath    string
	imageDir     string
	proc         ImageProcessor
	log          logrus.FieldLogger
	now          func() time.Time
	developDelay time.Duration
	adGate       bool

	notifier
}

// New creates the data directories and returns an empty store. Call Load to
// restore a previous session.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("storage: data dir is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("storage: image processor is required")
	}
	imageDir := filepath.Join(cfg.Dir, ImageDirName)
	if err := os.MkdirAll(imageDir, 0o750); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		dir:          cfg.Dir,
		statePath:    filepath.Join(cfg.Dir, StateFileName),
		imageDir:     imageDir,
		proc:         cfg.Processor,
		log:          logger.WithField("component", "store"),
		now:          now,
		developDelay: cfg.DevelopDelay,
		adGate:       cfg.RequireAdGate,
		notifier:     notifier{subs: make(map[chan Event]struct{})},
	}, nil
}

// StatePath returns the location of the state file.
func (s *Store) StatePath() string { return s.statePath }

// Load replaces the in-memory state with the state file's content. A missing
// file leaves the state alone. Any read, decode or validation failure is
// logged and returned, and the in-memory state is not touched. A file missing
// either top-level key counts as malformed.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.WithField("path", s.statePath).Debug("no state file, starting empty")
		return nil
	}
	if err != nil {
		s.log.WithError(err).Error("load state failed")
		return fmt.Errorf("read state: %w", err)
	}
	decoded, err := model.DecodeState(data)
	if err != nil {
		s.log.WithError(err).WithField("path", s.statePath).Error("load state failed")
		return err
	}

	s.mu.Lock()
	s.state = decoded
	count := len(decoded.Photos)
	s.mu.Unlock()

	s.log.WithField("photos", count).Info("state loaded")
	s.publish(Event{Kind: EventLoaded, At: s.now()})
	return nil
}

// Save writes the full state to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	state := s.state
	if state.Photos == nil {
		// an empty collection is written as [] so the file loads back
		state.Photos = []model.PhotoRecord{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.log.WithError(err).Error("encode state failed")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := writeFile(s.statePath, data, 0o600); err != nil {
		s.log.WithError(err).WithField("path", s.statePath).Error("save state failed")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// AddPhoto processes img, stores it and records it as captured now.
func (s *Store) AddPhoto(img image.Image) (model.PhotoRecord, error) {
	return s.AddPhotoAt(img, s.now())
}

// AddPhotoAt is AddPhoto with an explicit capture time. When the image cannot
// be encoded or written no record is created. When only the final save fails
// the record is kept and returned along with an error wrapping ErrPersist.
func (s *Store) AddPhotoAt(img image.Image, capturedAt time.Time) (model.PhotoRecord, error) {
	processed := s.proc.Process(img, capturedAt)
	var buf bytes.Buffer
	if err := s.proc.Encode(&buf, processed); err != nil {
		s.log.WithError(err).Error("encode photo failed")
		return model.PhotoRecord{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return s.insert(buf.Bytes(), capturedAt, capturedAt.Add(s.developDelay))
}

// AddTestRecord stores already-encoded bytes without running the processor.
// It is meant for seeding development data.
func (s *Store) AddTestRecord(data []byte, capturedAt, readyAt time.Time) (model.PhotoRecord, error) {
	return s.insert(data, capturedAt, readyAt)
}

func (s *Store) insert(data []byte, capturedAt, readyAt time.Time) (model.PhotoRecord, error) {
	id := s.freshID()
	rel := filepath.Join(ImageDirName, id.String()+imageExt)
	logger := s.log.WithField("photo_id", id)
	if err := writeFile(filepath.Join(s.dir, rel), data, 0o600); err != nil {
		logger.WithError(err).Error("write photo failed")
		return model.PhotoRecord{}, fmt.Errorf("%w: %w", ErrWriteImage, err)
	}

	rec := model.PhotoRecord{
		ID:                        id,
		CapturedAt:                capturedAt.UTC(),
		ReadyAt:                   readyAt.UTC(),
		RequiresAdGateBeforeReady: s.adGate,
		ImageFileReference:        filepath.ToSlash(rel),
	}

	s.mu.Lock()
	s.state.Photos = append(s.state.Photos, rec)
	err := s.saveLocked()
	s.mu.Unlock()

	logger.WithField("path", rec.ImageFileReference).Info("photo added")
	s.publish(Event{Kind: EventAdded, PhotoID: id, At: s.now()})
	return rec.Clone(), err
}

// freshID returns a UUID not used by any record yet.
func (s *Store) freshID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for {
		id := uuid.New()
		if s.state.Index(id) < 0 {
			return id
		}
	}
}

// Photos returns a copy of the records in insertion order.
func (s *Store) Photos() []model.PhotoRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone().Photos
}

// Newest returns a copy of the records sorted by capture time, newest first.
func (s *Store) Newest() []model.PhotoRecord {
	photos := s.Photos()
	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].CapturedAt.After(photos[j].CapturedAt)
	})
	return photos
}

// State returns a copy of the whole collection.
func (s *Store) State() model.CollectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Photos)
}

// Get returns a copy of one record.
func (s *Store) Get(id uuid.UUID) (model.PhotoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.state.Index(id)
	if i < 0 {
		return model.PhotoRecord{}, ErrNotFound
	}
	return s.state.Photos[i].Clone(), nil
}

// IsPremium reports the global premium flag.
func (s *Store) IsPremium() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsPremium
}

// SetPremium changes the premium flag and saves.
func (s *Store) SetPremium(premium bool) error {
	s.mu.Lock()
	s.state.IsPremium = premium
	err := s.saveLocked()
	s.mu.Unlock()
	s.publish(Event{Kind: EventPremium, At: s.now()})
	return err
}

// UnlockEarly marks a record viewable regardless of ReadyAt.
func (s *Store) UnlockEarly(id uuid.UUID) error {
	return s.update(id, func(p *model.PhotoRecord) {
		p.IsUnlockedEarly = true
	})
}

// SetMemo attaches an annotation blob; nil removes it.
func (s *Store) SetMemo(id uuid.UUID, data []byte) error {
	var memo []byte
	if data != nil {
		memo = append([]byte(nil), data...)
	}
	return s.update(id, func(p *model.PhotoRecord) {
		p.MemoDrawingData = memo
	})
}

func (s *Store) update(id uuid.UUID, mutate func(*model.PhotoRecord)) error {
	s.mu.Lock()
	i := s.state.Index(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	mutate(&s.state.Photos[i])
	err := s.saveLocked()
	s.mu.Unlock()
	s.publish(Event{Kind: EventUpdated, PhotoID: id, At: s.now()})
	return err
}

// ImagePath resolves a record's image file inside the data directory.
func (s *Store) ImagePath(rec model.PhotoRecord) string {
	return filepath.Join(s.dir, filepath.FromSlash(rec.ImageFileReference))
}

// ViewableNow evaluates the visibility gate with the store's clock and
// premium flag.
func (s *Store) ViewableNow(rec model.PhotoRecord) bool {
	return rec.ViewableAt(s.IsPremium(), s.now())
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }
