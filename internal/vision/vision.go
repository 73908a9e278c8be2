// Package vision declares the capture and inference contracts the frame pipeline runs on.
package vision

import "roadsafety/internal/model"

// Frame is one captured image. The pipeline owns it for a single iteration and
// closes it when done.
type Frame interface {
	Close() error
}

// Source yields frames from one camera device.
type Source interface {
	// Read grabs the next frame. ok is false when no frame was available.
	Read() (frame Frame, ok bool)
	// Opened reports whether the device itself was opened.
	Opened() bool
	// Close releases the device.
	Close() error
}

// Opener opens the device at index. A device that cannot be opened is returned
// as a Source whose reads always fail.
type Opener func(index int) Source

// Detector runs the object-detection model on a frame.
type Detector interface {
	Detect(frame Frame) ([]model.Detection, error)
}

// Renderer draws detections onto a frame and encodes the result as JPEG.
type Renderer interface {
	Render(frame Frame, detections []model.Detection) ([]byte, error)
}
