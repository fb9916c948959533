// Package worker copies photos to object storage as asynq tasks arrive.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/retom/internal/queue"
)

// Ledger records mirror outcomes. *repository.MirrorRepository satisfies it.
type Ledger interface {
	IsMirrored(ctx context.Context, id uuid.UUID) (bool, error)
	MarkMirrored(ctx context.Context, id uuid.UUID, bucket, objectKey string, size int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, bucket, objectKey, msg string) error
}

// Uploader copies a local file into the bucket. *s3storage.Storage
// satisfies it.
type Uploader interface {
	Bucket() string
	UploadPhoto(ctx context.Context, objectKey, filePath string) (int64, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	ledger Ledger
	store  Uploader
	log    logrus.FieldLogger
}

// NewProcessor constructs a worker processor.
func NewProcessor(ledger Ledger, store Uploader, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{ledger: ledger, store: store, log: logger.WithField("component", "mirror_worker")}
}

// Handler registers the mirror job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.MirrorPhotoTask, p.handleMirror)
	return mux
}

// decodePayload rejects tasks that can never succeed so asynq does not retry
// them.
func decodePayload(data []byte) (queue.MirrorPayload, error) {
	var payload queue.MirrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PhotoID == uuid.Nil || payload.Path == "" || payload.ObjectKey == "" {
		return payload, fmt.Errorf("incomplete payload: %w", asynq.SkipRetry)
	}
	return payload, nil
}

func (p *Processor) handleMirror(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task.Payload())
	if err != nil {
		p.log.WithError(err).Error("dropping mirror task")
		return err
	}
	logger := p.log.WithField("photo_id", payload.PhotoID)

	done, err := p.ledger.IsMirrored(ctx, payload.PhotoID)
	if err != nil {
		return err
	}
	if done {
		logger.Debug("already mirrored")
		return nil
	}

	failure := func(err error) error {
		logger.WithError(err).Warn("mirror failed")
		if markErr := p.ledger.MarkFailed(ctx, payload.PhotoID, p.store.Bucket(), payload.ObjectKey, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("record mirror failure")
		}
		return err
	}

	if _, err := os.Stat(payload.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// the image was swept or the data dir moved; retrying cannot help
			return failure(fmt.Errorf("photo file missing: %w", errors.Join(err, asynq.SkipRetry)))
		}
		return failure(err)
	}
	size, err := p.store.UploadPhoto(ctx, payload.ObjectKey, payload.Path)
	if err != nil {
		return failure(err)
	}
	if err := p.ledger.MarkMirrored(ctx, payload.PhotoID, p.store.Bucket(), payload.ObjectKey, size); err != nil {
		return failure(err)
	}
	logger.WithField("bytes", size).Info("photo mirrored")
	return nil
}
