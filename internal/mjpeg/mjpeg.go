// Package mjpeg writes JPEG frames as a multipart/x-mixed-replace HTTP stream.
package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// Boundary separates the parts of the stream.
	Boundary = "frame"
	// ContentType is the response content type of a stream.
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

var (
	partHeader  = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// WritePart writes one JPEG as a stream part.
func WritePart(w io.Writer, jpegData []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write(partTrailer)
	return err
}

// Options tune Stream.
type Options struct {
	// Keepalive is how long to wait for a frame before sending Placeholder.
	// Zero disables keepalive frames.
	Keepalive time.Duration
	// Placeholder is sent when no frame arrived within Keepalive.
	Placeholder []byte
	// OnFrame is called after every written part.
	OnFrame func(placeholder bool)
}

// Stream copies frames to w until frames is closed, ctx is done or a write fails.
// A closed channel ends the stream with a nil error.
func Stream(ctx context.Context, w http.ResponseWriter, frames <-chan []byte, opts Options) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var keepalive <-chan time.Time
	var timer *time.Timer
	if opts.Keepalive > 0 && len(opts.Placeholder) > 0 {
		timer = time.NewTimer(opts.Keepalive)
		defer timer.Stop()
		keepalive = timer.C
	}

	for {
		var data []byte
		placeholder := false

		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			data = frame
		case <-keepalive:
			data = opts.Placeholder
			placeholder = true
		}

		if err := WritePart(w, data); err != nil {
			return err
		}
		flusher.Flush()

		if opts.OnFrame != nil {
			opts.OnFrame(placeholder)
		}
		if timer != nil {
			if !placeholder && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(opts.Keepalive)
		}
	}
}

// Placeholder renders a dark JPEG with a centered one-line message.
func Placeholder(width, height int, message string) ([]byte, error) {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 34, G: 34, B: 34, A: 255}}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	textWidth := d.MeasureString(message).Round()
	x := (width - textWidth) / 2
	if x < 0 {
		x = 0
	}
	y := (height + face.Ascent) / 2
	d.Dot = fixed.P(x, y)
	d.DrawString(message)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
