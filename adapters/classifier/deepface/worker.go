// Package deepface runs an expression classifier in a long-lived child
// process. Frames go to its stdin and results come back on stdout, both as
// msgpack maps behind a 4-byte big-endian length prefix. Requests carry a
// sequence number that the worker echoes, so a request that times out never
// desynchronises the stream.
//
// A worker reads requests {seq, type, frame_data, format, width, height} and
// answers each with {seq, error?, result?}. type is "ping" (answer once the
// model is loaded) or "analyze"; result is one {dominant_emotion, emotion}
// map, a list of them or nil when no face was found, with emotion scores in
// percent. deepface_worker.py in this directory implements it with the
// deepface Python package:
//
//	classifier:
//	  deepface:
//	    command: ["python3", "adapters/classifier/deepface/deepface_worker.py"]
package deepface

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const Name = "deepface"

var errWorkerExited = errors.New("deepface worker exited")

// Config configures the worker process
type Config struct {
	// Command is the program and its arguments
	Command []string
	// Env is appended to the parent environment
	Env          []string
	WriteTimeout time.Duration
}

// Classifier implements repositories.EmotionClassifier over a child process
type Classifier struct {
	cfg    Config
	logger *zap.Logger

	startMu sync.Mutex
	started bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
	exited  chan struct{}

	seq       atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan Response

	requests atomic.Uint64
	failures atomic.Uint64
}

var _ repositories.EmotionClassifier = (*Classifier)(nil)

func New(cfg Config, logger *zap.Logger) *Classifier {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Classifier{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[uint64]chan Response),
		exited:  make(chan struct{}),
	}
}

func (c *Classifier) Name() string { return Name }

// Probe spawns the worker and waits for it to answer a ping
func (c *Classifier) Probe(ctx context.Context) error {
	if err := c.start(); err != nil {
		return err
	}
	if _, err := c.roundTrip(ctx, Request{Type: "ping"}); err != nil {
		return fmt.Errorf("deepface worker did not answer ping: %w", err)
	}
	return nil
}

// Classify sends the encoded frame and reads back the first face's analysis
func (c *Classifier) Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error) {
	c.requests.Add(1)
	resp, err := c.roundTrip(ctx, Request{
		Type:      "analyze",
		FrameData: frame.Raw,
		Format:    frame.Format,
		Width:     frame.Width(),
		Height:    frame.Height(),
	})
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	if resp.Error != "" {
		c.failures.Add(1)
		return nil, fmt.Errorf("deepface: %s", resp.Error)
	}

	faces, err := resp.Faces()
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}
	return toDetection(faces[0]), nil
}

func toDetection(a Analysis) *entities.Detection {
	label := a.DominantEmotion
	if label == "" {
		label = argmax(a.Emotion)
	}
	if label == "" {
		return nil
	}
	score, ok := scoreFor(a.Emotion, label)
	if !ok {
		// dominant label missing from the scores: trust the scores instead
		if best := argmax(a.Emotion); best != "" {
			label, score = best, a.Emotion[best]
		}
	}
	return &entities.Detection{
		Label:      entities.NormalizeEmotion(label),
		Confidence: entities.ClampConfidence(score / 100),
		Strategy:   Name,
	}
}

// scoreFor looks label up ignoring case; workers disagree on capitalization
func scoreFor(scores map[string]float64, label string) (float64, bool) {
	if v, ok := scores[label]; ok {
		return v, true
	}
	for k, v := range scores {
		if strings.EqualFold(k, label) {
			return v, true
		}
	}
	return 0, false
}

func argmax(scores map[string]float64) string {
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best := ""
	for _, l := range labels {
		if best == "" || scores[l] > scores[best] {
			best = l
		}
	}
	return best
}

func (c *Classifier) start() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return nil
	}
	if len(c.cfg.Command) == 0 {
		return errors.New("deepface: no worker command configured")
	}

	cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), c.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start deepface worker: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.started = true

	go c.readResults(stdout)
	go c.logStderr(stderr)
	go c.waitProcess()

	c.logger.Info("deepface worker started",
		zap.Strings("command", c.cfg.Command),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (c *Classifier) roundTrip(ctx context.Context, req Request) (Response, error) {
	select {
	case <-c.exited:
		return Response{}, errWorkerExited
	default:
	}

	req.Seq = c.seq.Add(1)
	ch := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[req.Seq] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.Seq)
		c.pendingMu.Unlock()
	}()

	writeErr := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		writeErr <- WriteFrame(c.stdin, req)
	}()

	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case err := <-writeErr:
		if err != nil {
			return Response{}, err
		}
	case <-timer.C:
		return Response{}, errors.New("timed out writing to deepface worker")
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.exited:
		return Response{}, errWorkerExited
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Classifier) readResults(stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("failed to read from deepface worker", zap.Error(err))
			}
			return
		}
		var resp Response
		if err := msgpack.Unmarshal(payload, &resp); err != nil {
			c.logger.Error("failed to unmarshal deepface response", zap.Error(err))
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.Seq]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("dropping late deepface response", zap.Uint64("seq", resp.Seq))
			continue
		}
		ch <- resp
	}
}

func (c *Classifier) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			c.logger.Error("deepface worker", zap.String("line", line))
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			c.logger.Warn("deepface worker", zap.String("line", line))
		default:
			c.logger.Debug("deepface worker", zap.String("line", line))
		}
	}
}

func (c *Classifier) waitProcess() {
	err := c.cmd.Wait()
	close(c.exited)
	if err != nil {
		c.logger.Error("deepface worker exited", zap.Error(err))
		return
	}
	c.logger.Info("deepface worker exited")
}

// Stats returns request and failure counts
func (c *Classifier) Stats() (requests, failures uint64) {
	return c.requests.Load(), c.failures.Load()
}

// Close asks the worker to exit by closing stdin and kills it after timeout
func (c *Classifier) Close(timeout time.Duration) error {
	c.startMu.Lock()
	started := c.started
	c.startMu.Unlock()
	if !started {
		return nil
	}

	// Closing the pipe also unblocks a writer stuck on a full buffer.
	_ = c.stdin.Close()

	select {
	case <-c.exited:
		return nil
	case <-time.After(timeout):
		c.logger.Warn("deepface worker did not exit, killing it")
		if err := c.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill deepface worker: %w", err)
		}
		<-c.exited
		return nil
	}
}
