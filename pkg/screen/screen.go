package screen

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fogleman/gg"
)

const (
	DefaultDevice = "/dev/fb1"

	S = 128

	maxBars = 4
)

type Bin struct {
	Name    string
	Percent int
	Valid   bool
}

var (
	Lock sync.Mutex

	// Bins are shown left to right in the order they were first reported.
	Bins        []Bin
	SorterState = "idle"
	RunState    = "stopped"
	LastLabel   string
)

// SetBinLevel records the latest reading for the named bin.
func SetBinLevel(name string, percent int, valid bool) {
	Lock.Lock()
	defer Lock.Unlock()
	for i := range Bins {
		if Bins[i].Name == name {
			Bins[i].Percent = percent
			Bins[i].Valid = valid
			return
		}
	}
	Bins = append(Bins, Bin{Name: name, Percent: percent, Valid: valid})
}

func SetSorterState(s string) {
	Lock.Lock()
	SorterState = s
	Lock.Unlock()
}

func SetRunState(s string) {
	Lock.Lock()
	RunState = s
	Lock.Unlock()
}

func SetLastLabel(s string) {
	Lock.Lock()
	LastLabel = s
	Lock.Unlock()
}

func snapshot() (bins []Bin, sorter, run, label string) {
	Lock.Lock()
	defer Lock.Unlock()
	return append([]Bin(nil), Bins...), SorterState, RunState, LastLabel
}

// LoopUpdatingScreen redraws the status screen until ctx is done, then
// blanks it.  A missing framebuffer is not an error.
func LoopUpdatingScreen(ctx context.Context, device string) {
	if device == "" {
		device = DefaultDevice
	}
	f, err := os.OpenFile(device, os.O_RDWR, 0666)
	if err != nil {
		slog.Info("Failed to open screen, ignoring", slog.String("device", device))
		return
	}
	defer f.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			var buf [S * S * 2]byte
			_, _ = f.Seek(0, 0)
			_, _ = f.Write(buf[:])
			return
		case <-ticker.C:
		}
		if err := writeFrame(f, Render()); err != nil {
			slog.Error("Screen failure", slog.Any("err", err))
			return
		}
	}
}

// Render draws the current status.
func Render() image.Image {
	bins, sorter, run, label := snapshot()

	dc := gg.NewContext(S, S)
	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(fmt.Sprintf("%s / %s", run, sorter), 2, 12)
	if label != "" {
		dc.DrawString(label, 2, 26)
	}

	dc.Push()
	dc.Translate(4, 30)
	for i, b := range bins {
		if i >= maxBars {
			break
		}
		drawFillBar(dc, b)
		dc.Translate(31, 0)
	}
	dc.Pop()
	return dc.Image()
}

func drawFillBar(dc *gg.Context, b Bin) {
	if !b.Valid {
		dc.Push()
		dc.Translate(13, 40)
		DrawWarning(dc)
		dc.Pop()
		dc.SetRGBA(1, 0.9, 0, 1)
		dc.DrawString(b.Name, 0, 93)
		return
	}
	// Nearly full bins go red.
	if b.Percent >= 90 {
		dc.SetRGBA(1, 0.2, 0, 1)
	} else {
		dc.SetRGBA(1, 0.9, 0, 1)
	}
	dc.DrawRectangle(0, 70, 26, 4)
	for n := 1; n <= 12; n++ {
		if b.Percent*12 >= n*100 {
			dc.DrawRectangle(2, 72-float64(n)*5, 22, 3)
		}
	}
	dc.Fill()
	dc.SetRGBA(1, 0.9, 0, 1)
	dc.DrawString(fmt.Sprintf("%d%%", b.Percent), 0, 84)
	dc.DrawString(b.Name, 0, 96)
}

func DrawWarning(dc *gg.Context) {
	dc.SetRGB(1, 0.2, 0)
	dc.DrawRegularPolygon(3, 0, 0, 14, 0)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawString("!", -3, 3)
}

// RGB565 packs img into the rotated 16-bit layout the panel expects.
func RGB565(img image.Image) []byte {
	buf := make([]byte, S*S*2)
	for y := 0; y < S; y++ {
		for x := 0; x < S; x++ {
			r, g, b, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			buf[(S-1-y)*2+x*S*2+1] = (rb << 3) | (gb >> 3)
			buf[(S-1-y)*2+x*S*2] = bb | (gb << 5)
		}
	}
	return buf
}

func writeFrame(f io.WriteSeeker, img image.Image) error {
	buf := RGB565(img)
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	for i := 0; i < S; i++ {
		if _, err := f.Write(buf[i*S*2 : (i+1)*S*2]); err != nil {
			return err
		}
		time.Sleep(10 * time.Microsecond)
	}
	return nil
}
