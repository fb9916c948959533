package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dharsanguruparan/retom/internal/model"
	"github.com/dharsanguruparan/retom/internal/processing"
	"github.com/dharsanguruparan/retom/internal/retro"
	"github.com/dharsanguruparan/retom/internal/storage"
)

const maxMemoSize = 1 << 20

// photoView is a record plus its visibility as of the response time.
type photoView struct {
	model.PhotoRecord
	Viewable         bool   `json:"viewable"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Remaining        string `json:"remaining"`
}

func (s *Server) view(rec model.PhotoRecord, premium bool, now time.Time) photoView {
	return photoView{
		PhotoRecord:      rec,
		Viewable:         rec.ViewableAt(premium, now),
		RemainingSeconds: rec.RemainingSeconds(now),
		Remaining:        rec.RemainingTimeString(now),
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	now := s.store.Now()
	premium := s.store.IsPremium()
	photos := s.store.Newest()
	views := make([]photoView, 0, len(photos))
	for _, p := range photos {
		views = append(views, s.view(p, premium, now))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"photos":    views,
		"isPremium": premium,
	})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.view(rec, s.store.IsPremium(), s.store.Now()))
}

// handleCapture decodes the uploaded frame and either queues it or, with
// ?sync=1, develops it before responding.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1024)
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form with a file field")
		return
	}
	defer file.Close()
	img, err := retro.Decode(file)
	if err != nil {
		s.log.WithError(err).Warn("rejected upload")
		respondError(w, http.StatusBadRequest, "file is not a supported image")
		return
	}
	capturedAt := s.store.Now()

	if inline, _ := strconv.ParseBool(r.URL.Query().Get("sync")); inline {
		rec, err := s.store.AddPhotoAt(img, capturedAt)
		if err != nil && !errors.Is(err, storage.ErrPersist) {
			respondError(w, http.StatusInternalServerError, "capture failed")
			return
		}
		// a persist failure still leaves the record in the collection
		respondJSON(w, http.StatusCreated, s.view(rec, s.store.IsPremium(), s.store.Now()))
		return
	}

	if err := s.pool.Submit(processing.Capture{Image: img, At: capturedAt}); err != nil {
		if errors.Is(err, processing.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, "capture queue full, try again")
			return
		}
		respondError(w, http.StatusInternalServerError, "capture failed")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"capturedAt": capturedAt.UTC(),
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.store.ViewableNow(rec) {
		s.respondLocked(w, rec)
		return
	}
	s.serveImage(w, r, rec, false)
}

// handleThumbnail serves the album thumbnail. While a photo is still
// developing the thumbnail is blurred beyond recognition.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	key := thumbKey{id: rec.ID, obscured: !s.store.ViewableNow(rec)}
	data, err := s.thumbs.get(key, func() ([]byte, error) {
		f, err := os.Open(s.store.ImagePath(rec))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if key.obscured {
			return retro.EncodeObscuredThumbnail(f, s.cfg.ThumbnailSize)
		}
		return retro.EncodeThumbnail(f, s.cfg.ThumbnailSize)
	})
	if err != nil {
		s.log.WithError(err).WithField("photo_id", rec.ID).Error("thumbnail failed")
		respondError(w, http.StatusInternalServerError, "thumbnail unavailable")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if key.obscured {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Photo-Developing", "true")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	}
	_, _ = w.Write(data)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, ok := photoID(w, r)
	if !ok {
		return
	}
	if err := s.store.UnlockEarly(id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.handlePhoto(w, r)
}

// handleMemo stores the raw request body as the memo; an empty body removes it.
func (s *Server) handleMemo(w http.ResponseWriter, r *http.Request) {
	id, ok := photoID(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMemoSize))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "memo too large")
		return
	}
	if len(data) == 0 {
		data = nil
	}
	if err := s.store.SetMemo(id, data); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.handlePhoto(w, r)
}

func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsPremium *bool `json:"isPremium"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IsPremium == nil {
		respondError(w, http.StatusBadRequest, `expecting {"isPremium": bool}`)
		return
	}
	if err := s.store.SetPremium(*body.IsPremium); err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"isPremium": s.store.IsPremium()})
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.store.ViewableNow(rec) {
		s.respondLocked(w, rec)
		return
	}
	link, expires := s.signer.URL("/download", rec.ID, s.cfg.SignedURLTTL)
	respondJSON(w, http.StatusOK, map[string]any{
		"url":     link,
		"expires": expires.Unix(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := s.signer.Verify(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rec, err := s.store.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	// links are issued only for viewable photos, but a state reload can relock one
	if !s.store.ViewableNow(rec) {
		s.respondLocked(w, rec)
		return
	}
	s.serveImage(w, r, rec, true)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, rec model.PhotoRecord, attachment bool) {
	f, err := os.Open(s.store.ImagePath(rec))
	if err != nil {
		s.log.WithError(err).WithField("photo_id", rec.ID).Error("open photo failed")
		respondError(w, http.StatusInternalServerError, "photo unavailable")
		return
	}
	defer f.Close()
	name := rec.ID.String() + ".jpg"
	w.Header().Set("Content-Type", "image/jpeg")
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	http.ServeContent(w, r, name, rec.CapturedAt, f)
}

func (s *Server) respondLocked(w http.ResponseWriter, rec model.PhotoRecord) {
	now := s.store.Now()
	respondJSON(w, http.StatusForbidden, map[string]any{
		"error":            "photo is still developing",
		"remainingSeconds": rec.RemainingSeconds(now),
		"remaining":        rec.RemainingTimeString(now),
	})
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "photo not found")
	case errors.Is(err, storage.ErrPersist):
		respondError(w, http.StatusInternalServerError, "change applied but could not be saved")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (model.PhotoRecord, bool) {
	id, ok := photoID(w, r)
	if !ok {
		return model.PhotoRecord{}, false
	}
	rec, err := s.store.Get(id)
	if err != nil {
		s.respondStoreError(w, err)
		return model.PhotoRecord{}, false
	}
	return rec, true
}

func photoID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return uuid.Nil, false
	}
	return id, true
}
