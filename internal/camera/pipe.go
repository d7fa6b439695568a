package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PipeOptions describe an external capture helper.
//
// The helper is started through the shell and must write aligned framesets to
// stdout back to back: a Z16 depth plane (width*2 bytes per row, no padding)
// followed by an RGBA color plane (width*4 bytes per row), both of the
// alignment target's size. A JSON preset, when given, is written to its stdin
// as a single line.
type PipeOptions struct {
	// Command may reference ${WIDTH}, ${HEIGHT}, ${FPS}, ${ALIGN},
	// ${DEPTH_WIDTH}, ${DEPTH_HEIGHT}, ${COLOR_WIDTH} and ${COLOR_HEIGHT}.
	Command     string
	NativeUnits float32
	ReadBuffer  int // default 256KB
	// StopTimeout is how long the helper gets to exit after an interrupt
	// before its process group is killed. Default 2s.
	StopTimeout time.Duration
}

// PipeSensor reads framesets from a capture helper process.
type PipeSensor struct {
	opts PipeOptions

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	stdin   io.WriteCloser
	reader  *bufio.Reader
	width   int
	height  int
	running bool
	number  uint64

	pool sync.Pool
	log  *logrus.Entry
}

// NewPipeSensor returns a sensor that starts opts.Command on Configure.
func NewPipeSensor(opts PipeOptions) *PipeSensor {
	if opts.NativeUnits == 0 {
		opts.NativeUnits = 0.001
	}
	if opts.ReadBuffer == 0 {
		opts.ReadBuffer = 256 * 1024
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}
	return &PipeSensor{opts: opts, log: logrus.WithField("component", "pipe-sensor")}
}

// ExpandCommand substitutes the stream configuration into the command.
func ExpandCommand(command string, cfg StreamConfig) string {
	w, h := cfg.OutputSize()
	vars := map[string]int{
		"WIDTH":        w,
		"HEIGHT":       h,
		"FPS":          cfg.Framerate,
		"DEPTH_WIDTH":  cfg.DepthWidth,
		"DEPTH_HEIGHT": cfg.DepthHeight,
		"COLOR_WIDTH":  cfg.ColorWidth,
		"COLOR_HEIGHT": cfg.ColorHeight,
	}
	return os.Expand(command, func(key string) string {
		if key == "ALIGN" {
			return cfg.AlignTo.String()
		}
		if v, ok := vars[key]; ok {
			return strconv.Itoa(v)
		}
		return "${" + key + "}"
	})
}

// Configure implements Sensor by launching the helper.
func (p *PipeSensor) Configure(cfg StreamConfig) (Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return Profile{}, fmt.Errorf("capture process is already running")
	}
	w, h := cfg.OutputSize()
	if w <= 0 || h <= 0 {
		return Profile{}, fmt.Errorf("invalid output size %dx%d", w, h)
	}

	command := ExpandCommand(p.opts.Command, cfg)
	cmd := exec.Command("sh", "-c", command)
	cmd.Stderr = os.Stderr
	// own process group, so pipelines under sh die together
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Profile{}, fmt.Errorf("stdout pipe error: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Profile{}, fmt.Errorf("stdin pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Profile{}, fmt.Errorf("failed to start capture process: %w", err)
	}

	p.cmd = cmd
	p.exited = make(chan struct{})
	p.stdin = stdin
	p.reader = bufio.NewReaderSize(stdout, p.opts.ReadBuffer)
	p.width, p.height = w, h
	p.running = true
	p.pool.New = func() any {
		return &syntheticBuffers{depth: make([]byte, w*2*h), color: make([]byte, w*4*h)}
	}

	p.log.WithFields(logrus.Fields{"command": command, "pid": cmd.Process.Pid}).
		Info("Capture process started")

	return Profile{
		Width:      w,
		Height:     h,
		Framerate:  cfg.Framerate,
		Intrinsics: Intrinsics{Width: w, Height: h, PPX: float32(w) / 2, PPY: float32(h) / 2, Model: "unknown"},
	}, nil
}

// WaitForFrameset implements Sensor. It blocks on the helper's stdout;
// cancelling ctx interrupts the helper, and kills it after StopTimeout, so
// the pending read fails.
func (p *PipeSensor) WaitForFrameset(ctx context.Context) (*Frameset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	reader, running, cmd, exited := p.reader, p.running, p.cmd, p.exited
	w, h := p.width, p.height
	p.mu.Unlock()
	if !running {
		return nil, ErrSensorStopped
	}

	stop := context.AfterFunc(ctx, func() {
		p.interrupt(cmd, exited)
	})
	defer stop()

	buf := p.pool.Get().(*syntheticBuffers)
	if _, err := io.ReadFull(reader, buf.depth); err != nil {
		p.pool.Put(buf)
		return nil, fmt.Errorf("failed to read depth plane: %w", err)
	}
	if _, err := io.ReadFull(reader, buf.color); err != nil {
		p.pool.Put(buf)
		return nil, fmt.Errorf("failed to read color plane: %w", err)
	}

	p.mu.Lock()
	p.number++
	n := p.number
	p.mu.Unlock()

	fs := NewFrameset(
		DepthFrame{
			Frame: Frame{Data: buf.depth, Width: w, Height: h, Stride: w * 2, BytesPerPixel: 2},
			Units: p.opts.NativeUnits,
		},
		Frame{Data: buf.color, Width: w, Height: h, Stride: w * 4, BytesPerPixel: 4},
		func(*Frameset) { p.pool.Put(buf) },
	)
	fs.Number = n
	return fs, nil
}

// interrupt asks the helper to exit and kills its process group if it is
// still around after StopTimeout. exited is closed once the helper is reaped.
func (p *PipeSensor) interrupt(cmd *exec.Cmd, exited <-chan struct{}) {
	_ = interruptGroup(cmd)
	select {
	case <-exited:
	case <-time.After(p.opts.StopTimeout):
		p.log.WithField("timeout", p.opts.StopTimeout).Warn("Capture process ignored interrupt, killing it")
		_ = killGroup(cmd)
	}
}

// LoadJSON implements Sensor by forwarding the preset to the helper.
func (p *PipeSensor) LoadJSON(preset []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("capture process is not running")
	}
	line := append(append([]byte{}, preset...), '\n')
	if _, err := p.stdin.Write(line); err != nil {
		return fmt.Errorf("failed to send preset: %w", err)
	}
	return nil
}

// SupportsDepthUnits implements Sensor. Helpers stream in a fixed unit.
func (p *PipeSensor) SupportsDepthUnits() bool { return false }

// DepthUnits implements Sensor.
func (p *PipeSensor) DepthUnits() float32 { return p.opts.NativeUnits }

// SetDepthUnits implements Sensor.
func (p *PipeSensor) SetDepthUnits(float32) error { return ErrOptionUnsupported }

// SupportsClamp implements Sensor.
func (p *PipeSensor) SupportsClamp() bool { return false }

// SetClamp implements Sensor.
func (p *PipeSensor) SetClamp(uint16) error { return ErrOptionUnsupported }

// Stop implements Sensor: interrupt the helper and kill it if it has not
// exited within StopTimeout.
func (p *PipeSensor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false

	p.log.Info("Stopping capture process...")
	_ = p.stdin.Close()
	_ = interruptGroup(p.cmd)

	waitErr := make(chan error, 1)
	go func() { waitErr <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-time.After(p.opts.StopTimeout):
		p.log.WithField("timeout", p.opts.StopTimeout).Warn("Capture process ignored interrupt, killing it")
		_ = killGroup(p.cmd)
		err = <-waitErr
	}
	close(p.exited)
	if err != nil {
		p.log.WithError(err).Debug("Capture process exited")
	}
	p.log.Info("Capture process stopped")
	return nil
}
