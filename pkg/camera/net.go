package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tigerbot-team/wastesort/pkg/vision"
)

var ErrUnsupportedFrame = errors.New("frame is not an OpenCV image")

type NetConfig struct {
	Model  string
	Labels []string
	// InputSize is the square input edge the network expects.
	InputSize int
	// Softmax converts raw logits into probabilities.
	Softmax       bool
	MinConfidence float64
}

// NetClassifier runs an image classification network and reports the
// top-1 class.
type NetClassifier struct {
	lock sync.Mutex
	cfg  NetConfig
	net  gocv.Net
}

var _ vision.Classifier = (*NetClassifier)(nil)

func NewNetClassifier(cfg NetConfig) (*NetClassifier, error) {
	if len(cfg.Labels) == 0 {
		return nil, errors.New("classifier needs at least one label")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 224
	}
	net := gocv.ReadNetFromONNX(cfg.Model)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s", cfg.Model)
	}
	return &NetClassifier{cfg: cfg, net: net}, nil
}

func (c *NetClassifier) BestLabel(ctx context.Context, f vision.Frame) (vision.Detection, bool, error) {
	mf, ok := f.(*MatFrame)
	if !ok {
		return vision.Detection{}, false, ErrUnsupportedFrame
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	size := c.cfg.InputSize
	blob := gocv.BlobFromImage(mf.Mat, 1.0/255, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	c.net.SetInput(blob, "")
	prob := c.net.Forward("")
	defer prob.Close()

	scores, err := prob.DataPtrFloat32()
	if err != nil {
		return vision.Detection{}, false, err
	}
	idx, conf := vision.Top1(scores, c.cfg.Softmax)
	if idx < 0 || idx >= len(c.cfg.Labels) {
		return vision.Detection{}, false, fmt.Errorf("model returned class %d for %d labels", idx, len(c.cfg.Labels))
	}
	if conf < c.cfg.MinConfidence {
		return vision.Detection{}, false, nil
	}
	return vision.Detection{Label: c.cfg.Labels[idx], Confidence: conf}, true, nil
}

func (c *NetClassifier) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.net.Close()
}
