// Package cameracontrol drives an external detection helper over a line
// protocol.  The helper is sent "detect <image path>" and eventually
// answers with a line of the form
//
//	RESULT: plastic 0.91,paper 0.40
//
// or "RESULT: none".  Any other output is logged and ignored.
package cameracontrol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kr/pty"

	"github.com/tigerbot-team/wastesort/pkg/vision"
)

const RESULT_PREFIX = "RESULT: "

var ErrTerminated = errors.New("subprocess terminated")

type CameraControl struct {
	Command       []string
	MinConfidence float64
	// TempDir receives the frames handed to the helper.
	TempDir string

	// Internals.
	lock       sync.Mutex
	subProcess *exec.Cmd
	subInput   io.WriteCloser
	lines      chan string
	done       chan struct{}
	scanErr    error
	// abandoned counts requests given up on whose RESULT is still due.
	abandoned int
}

var _ vision.Classifier = (*CameraControl)(nil)

func New(command []string, minConfidence float64) *CameraControl {
	if len(command) == 0 {
		command = []string{"python3", "detect.py"}
	}
	return &CameraControl{
		Command:       command,
		MinConfidence: minConfidence,
		TempDir:       os.TempDir(),
	}
}

// Start launches the helper under a pty so that its output is line
// buffered.
func (cc *CameraControl) Start() error {
	cc.subProcess = exec.Command(cc.Command[0], cc.Command[1:]...)
	f, err := pty.Start(cc.subProcess)
	if err != nil {
		return fmt.Errorf("couldn't Start subprocess: %w", err)
	}
	return cc.attach(f, f)
}

func (cc *CameraControl) attach(in io.WriteCloser, out io.Reader) error {
	cc.subInput = in
	cc.lines = make(chan string)
	cc.done = make(chan struct{})
	go func() {
		defer close(cc.done)
		s := bufio.NewScanner(out)
		for s.Scan() {
			cc.lines <- strings.TrimRight(s.Text(), "\r")
		}
		cc.scanErr = s.Err()
	}()
	return nil
}

// Execute sends one request and waits for its RESULT line.
func (cc *CameraControl) Execute(ctx context.Context, req string) (rsp string, err error) {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	slog.Debug("Send request to subprocess", slog.String("req", req))
	if _, err := io.WriteString(cc.subInput, req+"\n"); err != nil {
		return "", fmt.Errorf("error writing to subprocess: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			cc.abandoned++
			return "", ctx.Err()
		case <-cc.done:
			if cc.scanErr != nil {
				return "", fmt.Errorf("error from subprocess: %w", cc.scanErr)
			}
			return "", ErrTerminated
		case line := <-cc.lines:
			slog.Debug(">>", slog.String("line", line))
			if !strings.HasPrefix(line, RESULT_PREFIX) {
				continue
			}
			if cc.abandoned > 0 {
				cc.abandoned--
				slog.Warn("Discarding late result", slog.String("line", line))
				continue
			}
			return line[len(RESULT_PREFIX):], nil
		}
	}
}

// ParseResult parses the body of a RESULT line.
func ParseResult(rsp string) ([]vision.Detection, error) {
	rsp = strings.TrimSpace(rsp)
	if rsp == "" || rsp == "none" {
		return nil, nil
	}
	var ds []vision.Detection
	for _, item := range strings.Split(rsp, ",") {
		item = strings.TrimSpace(item)
		i := strings.LastIndex(item, " ")
		if i <= 0 {
			return nil, fmt.Errorf("malformed detection %q", item)
		}
		conf, err := strconv.ParseFloat(item[i+1:], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed confidence in %q: %w", item, err)
		}
		ds = append(ds, vision.Detection{Label: strings.TrimSpace(item[:i]), Confidence: conf})
	}
	return ds, nil
}

// Detect asks the helper for every detection in an image file.
func (cc *CameraControl) Detect(ctx context.Context, path string) ([]vision.Detection, error) {
	rsp, err := cc.Execute(ctx, "detect "+path)
	if err != nil {
		return nil, err
	}
	return ParseResult(rsp)
}

// BestLabel hands the frame to the helper and returns the most confident
// detection.
func (cc *CameraControl) BestLabel(ctx context.Context, f vision.Frame) (vision.Detection, bool, error) {
	tmp, err := os.CreateTemp(cc.TempDir, "frame-*.jpg")
	if err != nil {
		return vision.Detection{}, false, err
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := f.Save(path); err != nil {
		return vision.Detection{}, false, err
	}
	ds, err := cc.Detect(ctx, filepath.Clean(path))
	if err != nil {
		return vision.Detection{}, false, err
	}
	d, ok := vision.Best(ds, cc.MinConfidence)
	return d, ok, nil
}

func (cc *CameraControl) Close() error {
	if cc.subInput != nil {
		_ = cc.subInput.Close()
	}
	if cc.subProcess != nil && cc.subProcess.Process != nil {
		_ = cc.subProcess.Process.Kill()
		_ = cc.subProcess.Wait()
	}
	return nil
}
