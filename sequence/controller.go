package sequence

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/capture"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/raster"
	"github.com/spieswl/webrtc-perception/transfer"
)

// Reporter receives the bookkeeping messages sent alongside frames
type Reporter interface {
	// ReportTag announces the frame about to be sent
	ReportTag(transfer.Tag)

	// ReportDimensions announces the size of a captured frame
	ReportDimensions(width, height int)
}

// Controller runs sequences.  It is safe for concurrent use.
type Controller struct {
	cfg      Config
	gen      *pattern.Generator
	display  Display
	source   capture.Source
	sender   *transfer.Sender
	reporter Reporter
	log      *log.Logger

	base     context.Context
	shutdown context.CancelFunc
	closed   bool

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an idle controller.  reporter may be nil.
func New(cfg Config, gen *pattern.Generator, display Display, source capture.Source, sender *transfer.Sender, reporter Reporter) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := cfg.Logger
	if l == nil {
		l = log.New(os.Stderr, "sequence ", log.LstdFlags)
	}
	base, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)
	return &Controller{
		cfg:      cfg,
		gen:      gen,
		display:  display,
		source:   source,
		sender:   sender,
		reporter: reporter,
		log:      l,
		base:     base,
		shutdown: cancel,
		done:     done}, nil
}

// State returns a snapshot of the controller
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active is true while a sequence is running
func (c *Controller) Active() bool {
	return c.State().Mode != Idle
}

// Done returns a channel closed when the current sequence ends.  When idle
// the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// RequestImage captures and sends one frame of whatever is on screen.  It
// does not change the controller state.
func (c *Controller) RequestImage(ctx context.Context) error {
	st := c.State()
	spec := st.Displayed
	return c.captureAndSend(ctx, transfer.NewTag(spec.Kind, spec.Frequency, st.DisplayedFrame))
}

// Show draws spec and puts it on screen.  Manual patterns are rejected while
// a sequence runs.
func (c *Controller) Show(spec pattern.Spec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.Mode != Idle {
		return ErrSequenceActive
	}
	buf, cal, err := c.gen.Generate(spec, c.state.Calibration)
	if err != nil {
		return err
	}
	if err = c.display.Show(spec, buf); err != nil {
		return err
	}
	c.state.Displayed = spec
	c.state.DisplayedFrame = 0
	c.state.Calibration = cal
	return nil
}

// StartCalibration begins a calibration ramp sweep
func (c *Controller) StartCalibration() error {
	return c.start(Calibrating, c.calibrationStep())
}

// StartMeasurement begins a phase stepped measurement sequence
func (c *Controller) StartMeasurement() error {
	return c.start(Measuring, c.measurementStep())
}

// Stop cancels the running sequence, abandoning any frame in flight, and
// waits for the controller to return to Idle.  It is a no-op when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

// Close stops any sequence and rejects further triggers
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.shutdown()
	c.Stop()
	return nil
}

// stepFunc performs one tick.  frame is the index of the tick within the
// run.  It returns true when the sequence is exhausted.
type stepFunc func(ctx context.Context, frame int) (done bool, err error)

func (c *Controller) start(mode Mode, step stepFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.Mode != Idle {
		return ErrSequenceActive
	}
	ctx, cancel := context.WithCancel(c.base)
	done := make(chan struct{})
	c.state.Mode = mode
	c.state.Calibration = pattern.CalibrationState{}
	c.state.Measurement = MeasurementState{}
	c.state.FramesSent = 0
	c.state.LastError = ""
	c.cancel = cancel
	c.done = done
	c.log.Printf("starting %s, one step every %v", mode, c.cfg.Cadence)
	go c.run(ctx, mode, step, done)
	return nil
}

func (c *Controller) run(ctx context.Context, mode Mode, step stepFunc, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.Cadence)
	defer ticker.Stop()
	completed := false
	for frame := 0; ; frame++ {
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			break
		}
		finished, err := step(ctx, frame)
		if err != nil && ctx.Err() == nil {
			if c.stepFailed(StepError{Mode: mode, Frame: frame, Spec: c.State().Displayed, Err: err}) {
				break
			}
		}
		if finished {
			completed = true
			break
		}
	}
	c.finish(ctx, mode, completed)
}

// stepFailed logs a step error and asks OnError whether to abort
func (c *Controller) stepFailed(se StepError) bool {
	c.log.Println(se)
	c.mu.Lock()
	c.state.LastError = se.Error()
	c.mu.Unlock()
	if c.cfg.OnError == nil {
		return false
	}
	abort := c.cfg.OnError(se)
	if abort {
		c.log.Printf("%s aborted after step %d", se.Mode, se.Frame)
	}
	return abort
}

// finish resets the counters, blanks the screen and returns to Idle
func (c *Controller) finish(ctx context.Context, mode Mode, completed bool) {
	c.mu.Lock()
	c.state.Calibration = pattern.CalibrationState{}
	c.state.Measurement = MeasurementState{}
	c.mu.Unlock()
	if completed {
		sleep(ctx, c.cfg.BlackoutDelay)
	}
	black := pattern.Spec{Kind: pattern.Black}
	buf, _, err := c.gen.Generate(black, pattern.CalibrationState{})
	if err == nil {
		err = c.display.Show(black, buf)
	}
	if err != nil {
		c.log.Println("blanking screen:", err)
	}
	c.mu.Lock()
	c.state.Mode = Idle
	c.state.Displayed = black
	c.state.DisplayedFrame = 0
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = nil
	c.mu.Unlock()
	if completed {
		c.log.Printf("%s complete", mode)
	} else {
		c.log.Printf("%s stopped", mode)
	}
}

func (c *Controller) calibrationStep() stepFunc {
	return func(ctx context.Context, frame int) (bool, error) {
		c.mu.Lock()
		cal := c.state.Calibration
		c.mu.Unlock()
		spec := pattern.Spec{Kind: pattern.CalibrationRamp}
		buf, next, err := c.gen.Generate(spec, cal)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.state.Calibration = next
		c.mu.Unlock()
		if err = c.showStep(spec, buf, frame); err != nil {
			return next.Done(), err
		}
		if err = sleep(ctx, c.cfg.SettleDelay); err != nil {
			return false, err
		}
		err = c.captureAndSend(ctx, transfer.NewTag(spec.Kind, 0, frame))
		return next.Done(), err
	}
}

func (c *Controller) measurementStep() stepFunc {
	table := c.cfg.FrequencyTable
	return func(ctx context.Context, frame int) (bool, error) {
		c.mu.Lock()
		ms := c.state.Measurement
		c.mu.Unlock()
		next, done := ms.Advance(table)
		c.mu.Lock()
		c.state.Measurement = next
		c.mu.Unlock()

		spec := ms.Spec(table)
		buf, _, err := c.gen.Generate(spec, pattern.CalibrationState{})
		if err != nil {
			return done, err
		}
		if err = c.showStep(spec, buf, ms.FrameIndex); err != nil {
			return done, err
		}
		if err = sleep(ctx, c.cfg.SettleDelay); err != nil {
			return false, err
		}
		err = c.captureAndSend(ctx, transfer.NewTag(spec.Kind, spec.Frequency, ms.FrameIndex))
		return done, err
	}
}

// showStep puts a sequence pattern on screen.  frame is the index it is
// tagged with, reused by RequestImage while the pattern stays up.
func (c *Controller) showStep(spec pattern.Spec, buf *raster.PixelBuffer, frame int) error {
	if err := c.display.Show(spec, buf); err != nil {
		return errors.Wrap(err, "show")
	}
	c.mu.Lock()
	c.state.Displayed = spec
	c.state.DisplayedFrame = frame
	c.mu.Unlock()
	return nil
}

// captureAndSend reports tag, grabs a frame and transfers it
func (c *Controller) captureAndSend(ctx context.Context, tag transfer.Tag) error {
	if c.reporter != nil {
		c.reporter.ReportTag(tag)
	}
	if c.source == nil {
		return errors.Wrap(capture.ErrCaptureUnavailable, "capture")
	}
	frame, err := c.source.Capture(ctx)
	if err != nil {
		return errors.Wrap(err, "capture")
	}
	if c.reporter != nil {
		c.reporter.ReportDimensions(frame.Width, frame.Height)
	}
	sess, err := c.sender.Send(ctx, frame, tag)
	transfer.LogSession(c.log, sess, tag, err)
	if err != nil {
		return errors.Wrap(err, "send")
	}
	c.mu.Lock()
	c.state.FramesSent++
	c.mu.Unlock()
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
