// Package camera implements vision capture and classification on OpenCV.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tigerbot-team/wastesort/pkg/vision"
)

var ErrNoFrame = errors.New("no frame from camera")

// Stale frames buffered by the driver are dropped before the real capture.
const flushFrames = 4

type Webcam struct {
	lock    sync.Mutex
	capture *gocv.VideoCapture
}

var _ vision.Camera = (*Webcam)(nil)

func OpenWebcam(device int) (*Webcam, error) {
	c, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("error opening video capture device %d: %w", device, err)
	}
	return &Webcam{capture: c}, nil
}

func (w *Webcam) Capture(ctx context.Context) (vision.Frame, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	img := gocv.NewMat()
	for i := 0; i < flushFrames; i++ {
		if ctx.Err() != nil {
			img.Close()
			return nil, ctx.Err()
		}
		w.capture.Grab(1)
	}
	// This blocks until the next frame is ready.
	if ok := w.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, ErrNoFrame
	}
	return &MatFrame{Mat: img}, nil
}

func (w *Webcam) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.capture.Close()
}

// MatFrame wraps a BGR image.
type MatFrame struct {
	Mat gocv.Mat
}

var _ vision.Frame = (*MatFrame)(nil)

// LoadFrame reads an image file (as BGR).
func LoadFrame(path string) (*MatFrame, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("failed to read image %s", path)
	}
	return &MatFrame{Mat: img}, nil
}

func (f *MatFrame) Annotate(text string) {
	gocv.Rectangle(&f.Mat, image.Rect(0, 0, f.Mat.Cols(), 40), color.RGBA{0, 0, 0, 0}, -1)
	gocv.PutText(&f.Mat, text, image.Pt(10, 28), gocv.FontHersheySimplex, 0.9, color.RGBA{0, 255, 0, 0}, 2)
}

func (f *MatFrame) Save(path string) error {
	if ok := gocv.IMWrite(path, f.Mat); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

func (f *MatFrame) Close() error {
	return f.Mat.Close()
}
