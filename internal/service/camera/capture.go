package camera

import (
	"roadsafety/internal/logger"
	"roadsafety/internal/vision"

	"gocv.io/x/gocv"
)

// Frame wraps one captured BGR image.
type Frame struct {
	mat gocv.Mat
}

// NewFrame takes ownership of mat.
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{mat: mat}
}

// Mat exposes the underlying image for drawing and inference.
func (f *Frame) Mat() *gocv.Mat {
	return &f.mat
}

// Close releases the image memory.
func (f *Frame) Close() error {
	return f.mat.Close()
}

// Capture reads frames from one capture device.
type Capture struct {
	index  int
	vc     *gocv.VideoCapture
	logger *logger.Logger
}

// OpenCapture opens the device at index. When the device cannot be opened the
// returned Capture fails every read instead of returning an error.
// width and height are requested from the driver when positive.
func OpenCapture(index, width, height int, logger *logger.Logger) *Capture {
	c := &Capture{index: index, logger: logger}

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		logger.Warning("Could not open camera %d: %v", index, err)
		if vc != nil {
			vc.Close()
		}
		return c
	}

	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	c.vc = vc
	logger.Info("📷 Camera %d opened", index)
	return c
}

// Opener adapts OpenCapture to vision.Opener.
func Opener(width, height int, logger *logger.Logger) vision.Opener {
	return func(index int) vision.Source {
		return OpenCapture(index, width, height, logger)
	}
}

// Opened reports whether the device was opened successfully.
func (c *Capture) Opened() bool {
	return c.vc != nil && c.vc.IsOpened()
}

// Read grabs the next frame.
func (c *Capture) Read() (vision.Frame, bool) {
	if c.vc == nil {
		return nil, false
	}

	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, false
	}
	return NewFrame(mat), true
}

// Close releases the device. It is safe to call more than once.
func (c *Capture) Close() error {
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	c.logger.Info("📷 Camera %d released", c.index)
	return err
}
