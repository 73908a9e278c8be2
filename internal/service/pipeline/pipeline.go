// Package pipeline turns one camera's frames into annotated JPEG chunks and
// keeps that camera's alert text current.
package pipeline

import (
	"context"
	"errors"
	"time"

	"roadsafety/internal/alert"
	"roadsafety/internal/hazard"
	"roadsafety/internal/logger"
	"roadsafety/internal/metrics"
	"roadsafety/internal/model"
	"roadsafety/internal/vision"
)

// ErrNoFrames ends a pipeline whose camera failed too many reads in a row.
var ErrNoFrames = errors.New("camera produced no frames")

// Options wires a pipeline to its camera and collaborators.
type Options struct {
	Camera     int
	Open       vision.Opener
	Detector   vision.Detector
	Renderer   vision.Renderer
	Vocabulary *hazard.Vocabulary
	Board      *alert.Board
	Metrics    *metrics.Metrics
	Logger     *logger.Logger

	// MaxFailures bounds consecutive failed reads; 0 means unbounded.
	MaxFailures int
	RetryDelay  time.Duration
}

// Pipeline is the per-camera capture, detect, draw and encode loop.
type Pipeline struct {
	opts Options
}

func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pipeline{opts: opts}
}

// Camera returns the device index this pipeline reads from.
func (p *Pipeline) Camera() int {
	return p.opts.Camera
}

// Run opens the camera and emits one JPEG per successfully processed frame
// until ctx is cancelled or the camera stops producing frames. opened, when
// non-nil, is called once if the device itself opened. The camera is released
// and its alert cleared on every return path. Cancellation returns nil.
func (p *Pipeline) Run(ctx context.Context, emit func([]byte), opened func()) error {
	camera := p.opts.Camera
	source := p.opts.Open(camera)
	p.opts.Metrics.ActivePipelines.Add(1)
	defer func() {
		if err := source.Close(); err != nil {
			p.opts.Logger.Warning("Failed to release camera %d: %v", camera, err)
		}
		p.opts.Board.Clear(camera)
		p.opts.Metrics.ActivePipelines.Add(-1)
	}()

	if source.Opened() && opened != nil {
		opened()
	}
	p.opts.Logger.Info("▶️ Pipeline for camera %d started", camera)

	failures := 0
	for {
		if ctx.Err() != nil {
			p.opts.Logger.Info("⏹️ Pipeline for camera %d stopped", camera)
			return nil
		}

		frame, ok := source.Read()
		if !ok {
			failures++
			p.opts.Metrics.ReadFailures.Add(1)
			if p.opts.MaxFailures > 0 && failures >= p.opts.MaxFailures {
				p.opts.Logger.Warning("Camera %d: %d consecutive read failures, giving up", camera, failures)
				return ErrNoFrames
			}
			if !sleep(ctx, p.opts.RetryDelay) {
				p.opts.Logger.Info("⏹️ Pipeline for camera %d stopped", camera)
				return nil
			}
			continue
		}
		failures = 0

		if chunk, ok := p.Step(frame); ok {
			emit(chunk)
		}
	}
}

// Step processes a single frame and closes it. It updates the camera's alert
// from the hazards found and returns the encoded frame. ok is false when the
// frame could not be encoded.
func (p *Pipeline) Step(frame vision.Frame) (chunk []byte, ok bool) {
	defer frame.Close()
	camera := p.opts.Camera
	p.opts.Metrics.FramesRead.Add(1)

	var hazards []model.Detection
	detections, err := p.opts.Detector.Detect(frame)
	if err != nil {
		// Alert text stays as it was; the frame goes out without overlays.
		p.opts.Metrics.DetectErrors.Add(1)
		p.opts.Logger.Error("Detection failed on camera %d: %v", camera, err)
	} else {
		result := p.opts.Vocabulary.Evaluate(detections)
		hazards = result.Hazards
		p.opts.Board.Set(camera, result.Alert)
		for _, h := range hazards {
			p.opts.Metrics.ObserveHazard(h.Label)
		}
	}

	chunk, err = p.opts.Renderer.Render(frame, hazards)
	if err != nil {
		p.opts.Metrics.EncodeErrors.Add(1)
		p.opts.Logger.Error("Failed to encode frame from camera %d: %v", camera, err)
		return nil, false
	}

	p.opts.Metrics.FramesEmitted.Add(1)
	return chunk, true
}

// sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
