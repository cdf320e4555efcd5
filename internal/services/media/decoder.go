package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type decoderConfig struct {
	width    int
	height   int
	duration time.Duration
	// frameInterval paces output; zero decodes as fast as frames arrive.
	frameInterval time.Duration
	// loop restarts from zero at end of stream.
	loop bool
	// args returns the command line starting at start.
	args func(start time.Duration) (string, []string)
}

type turn int

const (
	turnDecode turn = iota
	turnSeek
	turnStop
)

// decoder runs ffmpeg writing raw RGBA frames to stdout and keeps the latest
// one. Seeking restarts the subprocess at the new offset. It implements both
// Video and Camera.
type decoder struct {
	cfg    decoderConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	// back is written only by the decode goroutine.
	back *image.RGBA

	mu       sync.Mutex
	latest   *image.RGBA
	fresh    bool
	out      *image.RGBA
	position time.Duration
	paused   bool
	showOne  bool
	rate     float64
	seekTo   *time.Duration
	err      error
}

func newDecoder(cfg decoderConfig) *decoder {
	ctx, cancel := context.WithCancel(context.Background())
	rect := image.Rect(0, 0, cfg.width, cfg.height)
	d := &decoder{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		back:   image.NewRGBA(rect),
		latest: image.NewRGBA(rect),
		rate:   1,
	}
	go d.run()
	return d
}

func (d *decoder) run() {
	defer close(d.done)

	var start time.Duration
	for d.ctx.Err() == nil {
		next, err := d.decodeFrom(start)
		if err != nil {
			if d.ctx.Err() == nil {
				log.Printf("Decoder stopped: %v", err)
				d.mu.Lock()
				d.err = err
				d.mu.Unlock()
			}
			return
		}
		start = next
	}
}

// decodeFrom runs one ffmpeg process from start and returns where the next
// one should begin.
func (d *decoder) decodeFrom(start time.Duration) (time.Duration, error) {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	name, args := d.cfg.args(start)
	cmd := exec.CommandContext(runCtx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}
	defer func() {
		cancel()
		_ = cmd.Wait()
	}()

	pos := start
	due := time.Now()
	for n := 0; ; n++ {
		t, seekTo, waited := d.awaitTurn()
		switch t {
		case turnStop:
			return 0, d.ctx.Err()
		case turnSeek:
			return seekTo, nil
		}
		if waited {
			due = time.Now()
		}

		if err := readFrame(stdout, d.back); err != nil {
			if errors.Is(err, io.EOF) {
				if n == 0 {
					_ = cmd.Wait()
					return 0, fmt.Errorf("no frames decoded: %s", strings.TrimSpace(stderr.String()))
				}
				if d.cfg.loop {
					return 0, nil
				}
			}
			return 0, err
		}
		d.publish(pos)
		pos += d.cfg.frameInterval

		if d.cfg.frameInterval > 0 {
			due = due.Add(d.scaledInterval())
			d.sleepUntil(due)
		}
	}
}

// readFrame fills dst from r. A stream that ends on a frame boundary reports
// io.EOF; a truncated frame is also treated as end of stream.
func readFrame(r io.Reader, dst *image.RGBA) error {
	_, err := io.ReadFull(r, dst.Pix)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// awaitTurn blocks while paused. A pending seek wins over decoding; after a
// seek while paused exactly one frame is decoded so the new position shows.
func (d *decoder) awaitTurn() (t turn, seekTo time.Duration, waited bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.ctx.Err() != nil {
			return turnStop, 0, waited
		}
		if d.seekTo != nil {
			seekTo = *d.seekTo
			d.seekTo = nil
			d.showOne = d.paused
			return turnSeek, seekTo, waited
		}
		if !d.paused || d.showOne {
			d.showOne = false
			return turnDecode, 0, waited
		}

		d.mu.Unlock()
		select {
		case <-d.wake:
		case <-d.ctx.Done():
		}
		d.mu.Lock()
		waited = true
	}
}

func (d *decoder) scaledInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(float64(d.cfg.frameInterval) / d.rate)
}

func (d *decoder) sleepUntil(due time.Time) {
	wait := time.Until(due)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.wake:
	case <-d.ctx.Done():
	}
}

func (d *decoder) publish(pos time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest, d.back = d.back, d.latest
	d.fresh = true
	d.position = pos
}

func (d *decoder) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Frame returns a copy of the latest frame owned by the caller until the
// next call, or nil before the first frame.
func (d *decoder) Frame() *image.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fresh {
		if d.out == nil {
			d.out = image.NewRGBA(d.latest.Bounds())
		}
		copy(d.out.Pix, d.latest.Pix)
		d.fresh = false
	}
	return d.out
}

func (d *decoder) Play() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.signal()
}

func (d *decoder) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	d.signal()
}

func (d *decoder) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *decoder) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	d.mu.Lock()
	d.rate = rate
	d.mu.Unlock()
}

func (d *decoder) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func (d *decoder) Duration() time.Duration { return d.cfg.duration }

// Seek restarts decoding at pos. Seeks issued faster than ffmpeg restarts
// collapse to the latest one.
func (d *decoder) Seek(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	if d.cfg.duration > 0 && pos > d.cfg.duration {
		pos = d.cfg.duration
	}
	d.mu.Lock()
	d.seekTo = &pos
	d.mu.Unlock()
	d.signal()
}

// Err returns the error that stopped decoding, if any.
func (d *decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *decoder) Close() error {
	d.cancel()
	<-d.done
	return nil
}
