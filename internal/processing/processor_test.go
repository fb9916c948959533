package processing

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"

	"github.com/dharsanguruparan/retom/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingAdder struct {
	mu    sync.Mutex
	times []time.Time
	block chan struct{}
	err   error
}

func (a *recordingAdder) AddPhotoAt(_ image.Image, at time.Time) (model.PhotoRecord, error) {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.times = append(a.times, at)
	if a.err != nil {
		return model.PhotoRecord{}, a.err
	}
	return model.PhotoRecord{ID: uuid.New(), CapturedAt: at}, nil
}

func (a *recordingAdder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.times)
}

func TestProcessorDevelopsCaptures(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	adder := &recordingAdder{}
	p := New(adder, 2, logger)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := p.Submit(Capture{Image: image.NewRGBA(image.Rect(0, 0, 2, 2)), At: at}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	cancel()
	p.Wait()

	if got := adder.count(); got != 5 {
		t.Fatalf("developed %d captures, want 5", got)
	}
	for _, got := range adder.times {
		if !got.Equal(at) {
			t.Fatalf("capture time = %v, want %v", got, at)
		}
	}
}

func TestSubmitReportsFullQueue(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	// not started: nothing consumes the buffer
	p := New(&recordingAdder{}, 1, logger)
	for i := 0; i < 4; i++ {
		if err := p.Submit(Capture{}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := p.Submit(Capture{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit on full queue = %v, want ErrQueueFull", err)
	}
	if hook.LastEntry() == nil {
		t.Fatalf("expected the dropped capture to be logged")
	}
}

func TestSubmitStampsMissingTime(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	adder := &recordingAdder{}
	p := New(adder, 1, logger)
	before := time.Now()
	if err := p.Submit(Capture{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.Wait()
	if adder.count() != 1 || adder.times[0].Before(before) {
		t.Fatalf("capture time not set: %v", adder.times)
	}
}

func TestProcessorSurvivesStoreErrors(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	adder := &recordingAdder{err: errors.New("disk full")}
	p := New(adder, 1, logger)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	for i := 0; i < 3; i++ {
		if err := p.Submit(Capture{At: time.Now()}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	cancel()
	p.Wait()
	if adder.count() != 3 {
		t.Fatalf("worker stopped after a failure: %d attempts", adder.count())
	}
	if len(hook.AllEntries()) < 3 {
		t.Fatalf("expected each failure to be logged, got %d entries", len(hook.AllEntries()))
	}
}

func TestStartIsIdempotent(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	adder := &recordingAdder{block: make(chan struct{})}
	p := New(adder, 1, logger)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Start(ctx)
	if err := p.Submit(Capture{At: time.Now()}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	close(adder.block)
	cancel()
	p.Wait()
	if adder.count() != 1 {
		t.Fatalf("developed %d captures, want 1", adder.count())
	}
}
