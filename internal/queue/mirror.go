// Package queue turns store changes into asynq tasks for the mirror worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/retom/internal/model"
	"github.com/dharsanguruparan/retom/internal/s3storage"
	"github.com/dharsanguruparan/retom/internal/storage"
)

const (
	// MirrorPhotoTask is scheduled each time a photo is added.
	MirrorPhotoTask = "photo:mirror"
	maxRetry        = 5
)

// MirrorPayload tells the worker which local file to copy and where to put it.
type MirrorPayload struct {
	PhotoID   uuid.UUID `json:"photo_id"`
	Path      string    `json:"path"`
	ObjectKey string    `json:"object_key"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PhotoSource resolves photo ids to files. *storage.Store satisfies it.
type PhotoSource interface {
	Photos() []model.PhotoRecord
	Get(id uuid.UUID) (model.PhotoRecord, error)
	ImagePath(rec model.PhotoRecord) string
}

// NewMirrorTask builds the task for one photo. The task id is derived from
// the photo id so a photo is queued at most once at a time.
func NewMirrorTask(payload MirrorPayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(MirrorPhotoTask + ":" + payload.PhotoID.String()),
	}
	return asynq.NewTask(MirrorPhotoTask, data), opts, nil
}

// EnqueueMirror enqueues a mirror job. A job already pending for the same
// photo is not an error.
func EnqueueMirror(ctx context.Context, client Enqueuer, payload MirrorPayload) error {
	task, opts, err := NewMirrorTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue mirror task: %w", err)
	}
	return nil
}

// PayloadFor builds the payload for a record.
func PayloadFor(src PhotoSource, rec model.PhotoRecord) MirrorPayload {
	return MirrorPayload{
		PhotoID:   rec.ID,
		Path:      src.ImagePath(rec),
		ObjectKey: s3storage.ObjectKey(rec.ID),
	}
}

// Forward enqueues a mirror job for every added photo until ctx is done or
// events is closed. A load event re-enqueues the whole collection; the worker
// skips photos it has already mirrored. Enqueue failures are logged and do
// not stop forwarding.
func Forward(ctx context.Context, events <-chan storage.Event, src PhotoSource, client Enqueuer, logger logrus.FieldLogger) error {
	log := logger.WithField("component", "mirror_forwarder")
	enqueue := func(rec model.PhotoRecord) {
		if err := EnqueueMirror(ctx, client, PayloadFor(src, rec)); err != nil {
			log.WithError(err).WithField("photo_id", rec.ID).Error("enqueue mirror failed")
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch evt.Kind {
			case storage.EventAdded:
				rec, err := src.Get(evt.PhotoID)
				if err != nil {
					log.WithError(err).WithField("photo_id", evt.PhotoID).Warn("added photo vanished")
					continue
				}
				enqueue(rec)
			case storage.EventLoaded:
				for _, rec := range src.Photos() {
					enqueue(rec)
				}
			}
		}
	}
}
