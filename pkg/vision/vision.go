// Package vision captures an image of the inserted item, classifies it and
// publishes the label for the router to pick up.
package vision

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Frame is one captured image.
type Frame interface {
	// Annotate draws text onto the image.
	Annotate(text string)
	Save(path string) error
	Close() error
}

type Camera interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// Detection is a classifier's best guess for a frame.
type Detection struct {
	Label      string
	Confidence float64
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
}

// Payload is the bus form of the detection, optionally with a
// " (0.91)" confidence suffix.
func (d Detection) Payload(withConfidence bool) string {
	if withConfidence {
		return d.String()
	}
	return d.Label
}

type Classifier interface {
	// BestLabel returns the most confident detection in the frame, or
	// ok == false if there is no object.
	BestLabel(ctx context.Context, f Frame) (d Detection, ok bool, err error)
	Close() error
}

// Best returns the highest confidence detection at or above minConfidence.
func Best(ds []Detection, minConfidence float64) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range ds {
		if d.Confidence < minConfidence || strings.TrimSpace(d.Label) == "" {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}

// Top1 picks the index of the largest score.  With softmax set the scores
// are treated as logits and the returned confidence is a probability.
func Top1(scores []float32, softmax bool) (int, float64) {
	if len(scores) == 0 {
		return -1, 0
	}
	idx := 0
	for i, s := range scores {
		if s > scores[idx] {
			idx = i
		}
	}
	if !softmax {
		return idx, float64(scores[idx])
	}
	max := float64(scores[idx])
	var sum float64
	for _, s := range scores {
		sum += math.Exp(float64(s) - max)
	}
	return idx, 1 / sum
}
