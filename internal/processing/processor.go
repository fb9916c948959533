// Package processing runs captures on a fixed set of background workers so
// filtering and encoding stay off the request path.
package processing

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/retom/internal/model"
)

// ErrQueueFull is returned by Submit when every buffer slot is taken.
var ErrQueueFull = errors.New("capture queue full")

// Capture is one raw frame waiting to be developed.
type Capture struct {
	Image image.Image
	At    time.Time
}

// Adder is the part of the store the workers need.
type Adder interface {
	AddPhotoAt(img image.Image, capturedAt time.Time) (model.PhotoRecord, error)
}

// Processor consumes Captures and hands them to the store.
type Processor struct {
	store   Adder
	queue   chan Capture
	workers int
	log     logrus.FieldLogger

	once sync.Once
	wg   sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(store Adder, workers int, logger logrus.FieldLogger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		store:   store,
		queue:   make(chan Capture, workers*4),
		workers: workers,
		log:     logger.WithField("component", "capture_pool"),
	}
}

// Start launches the workers. Calling it again is a no-op. Workers stop when
// ctx is cancelled, after developing whatever is still buffered.
func (p *Processor) Start(ctx context.Context) {
	p.once.Do(func() {
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.worker(ctx)
		}
	})
}

// Submit queues a capture without blocking.
func (p *Processor) Submit(c Capture) error {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	select {
	case p.queue <- c:
		return nil
	default:
		p.log.WithField("queued", len(p.queue)).Warn("capture queue full, dropping capture")
		return ErrQueueFull
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case c := <-p.queue:
			p.process(c)
		}
	}
}

// drain develops buffered captures so a shutdown does not lose photos the
// user already took.
func (p *Processor) drain() {
	for {
		select {
		case c := <-p.queue:
			p.process(c)
		default:
			return
		}
	}
}

func (p *Processor) process(c Capture) {
	start := time.Now()
	rec, err := p.store.AddPhotoAt(c.Image, c.At)
	if err != nil {
		// the store has already logged the cause
		p.log.WithError(err).Warn("capture failed")
		return
	}
	p.log.WithFields(logrus.Fields{
		"photo_id": rec.ID,
		"elapsed":  time.Since(start),
	}).Debug("capture developed")
}
