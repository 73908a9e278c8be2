package ai

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"roadsafety/internal/config"
	"roadsafety/internal/logger"
	"roadsafety/internal/model"
	"roadsafety/internal/service/camera"
	"roadsafety/internal/vision"

	"gocv.io/x/gocv"
)

const (
	// inputSize is the square input of the SSD MobileNet COCO graph.
	inputSize = 300
	// labelOffset lifts the label text above its box.
	labelOffset = 5
)

var (
	// ErrNetworkNotLoaded is returned by Detect when no model is loaded.
	ErrNetworkNotLoaded = errors.New("detection network not initialized")
	// ErrUnsupportedFrame is returned for frames not produced by the camera package.
	ErrUnsupportedFrame = errors.New("unsupported frame type")
)

var overlayColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// DetectorService runs a pretrained SSD network through OpenCV DNN. One network
// is shared by every pipeline; inference is serialized.
type DetectorService struct {
	net         gocv.Net
	mu          sync.Mutex
	modelPath   string
	configPath  string
	threshold   float64
	jpegQuality int
	logger      *logger.Logger
	onInference func(time.Duration)
}

// NewDetectorService loads the network from the configured model/config paths.
// A model that cannot be loaded is an error; the caller treats it as fatal.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	service := &DetectorService{
		modelPath:   cfg.ModelPath,
		configPath:  cfg.ConfigPath,
		threshold:   cfg.ScoreThreshold,
		jpegQuality: cfg.JPEGQuality,
		logger:      logger,
	}

	if err := service.initializeNet(); err != nil {
		return nil, err
	}
	return service, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.logger.Info("🤖 Detection network initialized (threshold %.2f)", s.threshold)
	return nil
}

// OnInference registers a callback receiving every inference duration.
func (s *DetectorService) OnInference(fn func(time.Duration)) {
	s.onInference = fn
}

// Detect runs the network on a frame and returns the detections above the
// confidence threshold, in the order the network produced them.
func (s *DetectorService) Detect(f vision.Frame) ([]model.Detection, error) {
	frame, ok := f.(*camera.Frame)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFrame, f)
	}
	mat := frame.Mat()
	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	if err := gocv.CvtColor(*mat, &rgb, gocv.ColorBGRToRGB); err != nil {
		return nil, fmt.Errorf("failed to convert frame to RGB: %w", err)
	}

	// Create blob with parameters that fit ssd coco net input
	blob := gocv.BlobFromImage(rgb, 1.0/127.5, image.Pt(inputSize, inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	s.mu.Lock()
	if s.net.Empty() {
		s.mu.Unlock()
		return nil, ErrNetworkNotLoaded
	}
	start := time.Now()
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	elapsed := time.Since(start)
	s.mu.Unlock()
	defer output.Close()

	if s.onInference != nil {
		s.onInference(elapsed)
	}

	// Process detections with output: [ batch_id, class_id, confidence, x1, y1, x2, y2 ]
	rows := parseRows(output)
	return toDetections(rows, s.threshold, mat.Cols(), mat.Rows()), nil
}

// parseRows flattens the network output into 7-value rows.
func parseRows(output gocv.Mat) [][7]float32 {
	total := output.Total()
	if total < 7 {
		return nil
	}
	reshaped := output.Reshape(1, total/7)
	defer reshaped.Close()

	rows := make([][7]float32, reshaped.Rows())
	for i := range rows {
		for j := 0; j < 7; j++ {
			rows[i][j] = reshaped.GetFloatAt(i, j)
		}
	}
	return rows
}

// toDetections converts raw SSD rows into pixel-space detections clamped to
// the frame. Rows at or below threshold are dropped.
func toDetections(rows [][7]float32, threshold float64, width, height int) []model.Detection {
	var results []model.Detection
	bounds := image.Rect(0, 0, width, height)

	for _, row := range rows {
		confidence := float64(row[2])
		if confidence <= threshold {
			continue
		}

		classID := int(row[1])
		rect := image.Rect(
			int(row[3]*float32(width)),
			int(row[4]*float32(height)),
			int(row[5]*float32(width)),
			int(row[6]*float32(height)),
		).Intersect(bounds)
		if rect.Empty() {
			continue
		}

		results = append(results, model.Detection{
			Label:      LabelFor(classID),
			Confidence: confidence,
			X:          rect.Min.X,
			Y:          rect.Min.Y,
			Width:      rect.Dx(),
			Height:     rect.Dy(),
		})
	}

	return results
}

// Render draws a box and label for every detection onto the frame and returns
// the frame re-encoded as JPEG.
func (s *DetectorService) Render(f vision.Frame, detections []model.Detection) ([]byte, error) {
	frame, ok := f.(*camera.Frame)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFrame, f)
	}
	mat := frame.Mat()

	for _, detection := range detections {
		if err := gocv.Rectangle(mat, detection.Rect(), overlayColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		pt := image.Pt(detection.X, detection.Y-labelOffset)
		if err := gocv.PutText(mat, detection.Label, pt, gocv.FontHersheySimplex, 0.8, overlayColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *mat, []int{gocv.IMWriteJpegQuality, s.jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	finalImage := make([]byte, len(buf.GetBytes()))
	copy(finalImage, buf.GetBytes())
	return finalImage, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.net.Empty() {
		return nil
	}
	return s.net.Close()
}
