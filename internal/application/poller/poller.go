package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appdetections "github.com/entomolab/casetrace/internal/application/detections"
	"github.com/entomolab/casetrace/internal/domain/uploads"
)

// Processor runs the detection pipeline for one queued upload.
type Processor interface {
	ProcessUpload(ctx context.Context, owner string, id uploads.UploadID) (appdetections.ProcessResult, error)
}

// Options tune the adaptive polling behavior.
type Options struct {
	// BaseInterval is the polling period while work keeps arriving.
	BaseInterval time.Duration
	// MaxInterval caps the backed-off period.
	MaxInterval time.Duration
	// IdleAfter is how long the queue must stay empty before the poller
	// deactivates and waits for a notify instead of polling.
	IdleAfter time.Duration
}

// Poller drains queued uploads through the detection pipeline. The
// polling interval adapts to activity: it grows by half while the queue
// stays empty, capped at MaxInterval, snaps back to BaseInterval when
// work appears, and after IdleAfter of continuous idleness the poller
// deactivates entirely until Notify wakes it. A deactivated poller
// issues no queries.
type Poller struct {
	Repo      uploads.Repository
	Processor Processor
	Log       zerolog.Logger
	Opts      Options

	notify chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func New(repo uploads.Repository, proc Processor, log zerolog.Logger, opts Options) *Poller {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = 10 * time.Second
	}
	if opts.MaxInterval < opts.BaseInterval {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 120 * time.Second
	}
	return &Poller{
		Repo:      repo,
		Processor: proc,
		Log:       log,
		Opts:      opts,
		notify:    make(chan struct{}, 1),
	}
}

// Notify wakes the poller immediately. Non-blocking; multiple pending
// notifies coalesce into one.
func (p *Poller) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start launches the polling goroutine. It exits when ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.once.Do(func() {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	})
}

// Wait blocks until the polling goroutine has exited.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	interval := p.Opts.BaseInterval
	idleSince := time.Now()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			interval = p.Opts.BaseInterval
			idleSince = time.Now()
		case <-timer.C:
		}

		worked := p.drain(ctx)
		if ctx.Err() != nil {
			return
		}

		if worked {
			interval = p.Opts.BaseInterval
			idleSince = time.Now()
		} else {
			interval = nextInterval(interval, p.Opts.MaxInterval)
			if time.Since(idleSince) >= p.Opts.IdleAfter {
				p.Log.Debug().Msg("poller deactivating until notified")
				select {
				case <-ctx.Done():
					return
				case <-p.notify:
					interval = p.Opts.BaseInterval
					idleSince = time.Now()
				}
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

// drain processes queued uploads until the queue is empty. Job failures
// are isolated: ProcessUpload already marks the upload failed, so the
// loop just logs and moves on.
func (p *Poller) drain(ctx context.Context) bool {
	worked := false
	for {
		if ctx.Err() != nil {
			return worked
		}
		up, err := p.Repo.NextQueued(ctx)
		if err != nil {
			p.Log.Error().Err(err).Msg("polling queued uploads")
			return worked
		}
		if up == nil {
			return worked
		}
		worked = true

		res, err := p.Processor.ProcessUpload(ctx, up.OwnerID, up.ID)
		if err != nil {
			p.Log.Warn().Err(err).Str("upload_id", string(up.ID)).Msg("detection pipeline failed")
			continue
		}
		p.Log.Info().
			Str("upload_id", res.UploadID).
			Int("detections", res.Detections).
			Msg("upload processed")
	}
}

// nextInterval grows the polling period by half, capped.
func nextInterval(cur, max time.Duration) time.Duration {
	next := cur + cur/2
	if next > max {
		return max
	}
	return next
}
