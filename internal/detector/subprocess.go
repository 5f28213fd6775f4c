package detector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
)

const stopTimeout = 2 * time.Second

// SubprocessConfig describes the external model worker.
type SubprocessConfig struct {
	Command     string
	Args        []string
	Env         []string // appended to the parent environment
	Timeout     time.Duration
	JPEGQuality int
}

// SubprocessModel talks to a long-lived worker process over stdin/stdout using
// length-prefixed msgpack messages. The worker is started lazily and restarted
// after a crash or a timed out call.
type SubprocessModel struct {
	cfg SubprocessConfig

	mu   sync.Mutex
	proc *workerProcess
	seq  uint64
}

type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
}

type workerReply struct {
	resp predictResponse
	err  error
}

// NewSubprocessModel returns a model that spawns cfg.Command on first use.
func NewSubprocessModel(cfg SubprocessConfig) *SubprocessModel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &SubprocessModel{cfg: cfg}
}

// Predict sends img to the worker and waits for its detections.
func (m *SubprocessModel) Predict(ctx context.Context, img image.Image, opts PredictOptions) ([]RawDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.ensureStartedLocked()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	m.seq++
	b := img.Bounds()
	req := predictRequest{
		Seq:        m.seq,
		Image:      buf.Bytes(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Confidence: opts.Confidence,
		ImageSize:  opts.ImageSize,
	}

	replies := make(chan workerReply, 1)
	go func() {
		if err := writeFrame(proc.stdin, req); err != nil {
			replies <- workerReply{err: fmt.Errorf("write request: %w", err)}
			return
		}
		var resp predictResponse
		err := readFrame(proc.stdout, &resp)
		replies <- workerReply{resp: resp, err: err}
	}()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	select {
	case r := <-replies:
		if r.err != nil {
			m.killLocked("read failed")
			return nil, fmt.Errorf("worker reply: %w", r.err)
		}
		if r.resp.Seq != req.Seq {
			m.killLocked("sequence mismatch")
			return nil, fmt.Errorf("%w: reply seq %d for request %d", ErrMalformedOutput, r.resp.Seq, req.Seq)
		}
		if r.resp.Error != "" {
			return nil, fmt.Errorf("worker: %s", r.resp.Error)
		}
		out := make([]RawDetection, 0, len(r.resp.Detections))
		for _, d := range r.resp.Detections {
			out = append(out, d.raw())
		}
		logger.Debug("Worker", "seq=%d detections=%d inference=%.1fms", req.Seq, len(out), r.resp.InferenceMs)
		return out, nil
	case <-proc.exited:
		m.killLocked("exited")
		return nil, errors.New("worker exited during prediction")
	case <-callCtx.Done():
		m.killLocked("timeout")
		return nil, fmt.Errorf("worker call: %w", callCtx.Err())
	}
}

func (m *SubprocessModel) ensureStartedLocked() (*workerProcess, error) {
	if m.proc != nil {
		select {
		case <-m.proc.exited:
			m.proc = nil
		default:
			return m.proc, nil
		}
	}
	if m.cfg.Command == "" {
		return nil, errors.New("worker command not configured")
	}

	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	cmd.Env = append(os.Environ(), m.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", m.cfg.Command, err)
	}

	proc := &workerProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logStderr(stderr)
	}()
	go func() {
		<-stderrDone
		err := cmd.Wait()
		if err != nil {
			logger.Warn("Worker", "pid %d exited: %v", cmd.Process.Pid, err)
		} else {
			logger.Debug("Worker", "pid %d exited", cmd.Process.Pid)
		}
		close(proc.exited)
	}()

	logger.Info("Worker", "Started %s (pid %d)", m.cfg.Command, cmd.Process.Pid)
	m.proc = proc
	return proc, nil
}

func (m *SubprocessModel) killLocked(reason string) {
	if m.proc == nil {
		return
	}
	logger.Warn("Worker", "Killing pid %d: %s", m.proc.cmd.Process.Pid, reason)
	_ = m.proc.cmd.Process.Kill()
	_ = m.proc.stdin.Close()
	m.proc = nil
}

// Close asks the worker to exit by closing stdin and kills it if it does not.
func (m *SubprocessModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc := m.proc
	if proc == nil {
		return nil
	}
	m.proc = nil

	err := proc.stdin.Close()
	select {
	case <-proc.exited:
	case <-time.After(stopTimeout):
		err = multierr.Append(err, proc.cmd.Process.Kill())
		<-proc.exited
	}
	return err
}

// logStderr forwards worker stderr lines to the logger by prefix.
func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			logger.Error("Worker", "%s", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			logger.Warn("Worker", "%s", line)
		default:
			logger.Debug("Worker", "%s", line)
		}
	}
}
