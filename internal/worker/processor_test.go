package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/dharsanguruparan/retom/internal/queue"
)

type fakeLedger struct {
	mirrored map[uuid.UUID]int64
	failed   map[uuid.UUID]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{mirrored: map[uuid.UUID]int64{}, failed: map[uuid.UUID]string{}}
}

func (l *fakeLedger) IsMirrored(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := l.mirrored[id]
	return ok, nil
}

func (l *fakeLedger) MarkMirrored(_ context.Context, id uuid.UUID, _, _ string, size int64) error {
	l.mirrored[id] = size
	delete(l.failed, id)
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, id uuid.UUID, _, _, msg string) error {
	l.failed[id] = msg
	return nil
}

type fakeUploader struct {
	uploads []string
	err     error
}

func (u *fakeUploader) Bucket() string { return "retom-test" }

func (u *fakeUploader) UploadPhoto(_ context.Context, objectKey, filePath string) (int64, error) {
	if u.err != nil {
		return 0, u.err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	u.uploads = append(u.uploads, objectKey)
	return info.Size(), nil
}

func mirrorTask(t *testing.T, payload queue.MirrorPayload) *asynq.Task {
	t.Helper()
	task, _, err := queue.NewMirrorTask(payload)
	if err != nil {
		t.Fatalf("NewMirrorTask: %v", err)
	}
	return task
}

func photoFile(t *testing.T) (queue.MirrorPayload, string) {
	t.Helper()
	id := uuid.New()
	path := filepath.Join(t.TempDir(), id.String()+".jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return queue.MirrorPayload{PhotoID: id, Path: path, ObjectKey: "photos/" + id.String() + ".jpg"}, path
}

func TestHandleMirrorUploadsOnce(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	ledger, up := newFakeLedger(), &fakeUploader{}
	p := NewProcessor(ledger, up, logger)
	payload, _ := photoFile(t)

	for i := 0; i < 2; i++ {
		if err := p.handleMirror(context.Background(), mirrorTask(t, payload)); err != nil {
			t.Fatalf("handleMirror #%d: %v", i, err)
		}
	}
	if len(up.uploads) != 1 || up.uploads[0] != payload.ObjectKey {
		t.Fatalf("uploads = %v", up.uploads)
	}
	if ledger.mirrored[payload.PhotoID] != int64(len("jpeg-bytes")) {
		t.Fatalf("ledger size = %d", ledger.mirrored[payload.PhotoID])
	}
}

func TestHandleMirrorUploadFailureRetries(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	ledger := newFakeLedger()
	p := NewProcessor(ledger, &fakeUploader{err: errors.New("503 slow down")}, logger)
	payload, _ := photoFile(t)

	err := p.handleMirror(context.Background(), mirrorTask(t, payload))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("handleMirror = %v, want a retryable error", err)
	}
	if ledger.failed[payload.PhotoID] == "" {
		t.Fatalf("failure not recorded")
	}
}

func TestHandleMirrorMissingFileSkipsRetry(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	ledger := newFakeLedger()
	p := NewProcessor(ledger, &fakeUploader{}, logger)
	payload, path := photoFile(t)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	err := p.handleMirror(context.Background(), mirrorTask(t, payload))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("handleMirror = %v, want SkipRetry", err)
	}
	if ledger.failed[payload.PhotoID] == "" {
		t.Fatalf("failure not recorded")
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name string
		data string
		ok   bool
	}{
		{"garbage", "{", false},
		{"missing id", `{"path":"/x.jpg","object_key":"photos/x.jpg"}`, false},
		{"missing path", `{"photo_id":"` + uuid.NewString() + `","object_key":"photos/x.jpg"}`, false},
		{"complete", `{"photo_id":"` + uuid.NewString() + `","path":"/x.jpg","object_key":"photos/x.jpg"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodePayload([]byte(tt.data))
			if tt.ok && err != nil {
				t.Fatalf("decodePayload: %v", err)
			}
			if !tt.ok && !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("decodePayload = %v, want SkipRetry", err)
			}
		})
	}
}
