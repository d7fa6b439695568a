package encoder

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// VideoEncoder encodes raw pictures of a single channel.
type VideoEncoder interface {
	// Encode consumes one picture. Planes may carry row padding up to Linesize.
	Encode(f *Frame) error
	// Close drains pending output and releases the encoder.
	Close() error
}

// VideoEncoderFactory builds the encoder of channel index ch.
type VideoEncoderFactory func(ch int, cfg ChannelConfig, out PacketWriter) (VideoEncoder, error)

// FFmpegEncoder runs one ffmpeg process: raw planes in on stdin, Annex-B out
// on stdout.
type FFmpegEncoder struct {
	ch     int
	cfg    ChannelConfig
	out    PacketWriter
	layout []plane

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	wg     sync.WaitGroup

	mu       sync.Mutex
	writeErr error
	packets  uint64

	log *logrus.Entry
}

// FFmpegBinary is the executable used by NewFFmpegEncoder.
var FFmpegBinary = "ffmpeg"

// FFmpegArgs builds the ffmpeg command line for cfg.
func FFmpegArgs(cfg ChannelConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	vaapi := strings.Contains(cfg.Encoder, "vaapi")
	if vaapi && cfg.Device != "" {
		args = append(args, "-vaapi_device", cfg.Device)
	}

	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", cfg.PixelFormat,
		"-s", strconv.Itoa(cfg.Width)+"x"+strconv.Itoa(cfg.Height),
		"-r", strconv.Itoa(cfg.Framerate),
		"-i", "pipe:0",
	)
	if vaapi {
		upload := "nv12"
		if cfg.PixelFormat == "p010le" {
			upload = "p010"
		}
		args = append(args, "-vf", "format="+upload+",hwupload")
	}

	args = append(args, "-c:v", cfg.Encoder)
	if cfg.Profile != "" {
		args = append(args, "-profile:v", cfg.Profile)
	}
	if cfg.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(cfg.Bitrate))
	}
	if cfg.CompressionLevel >= 0 {
		args = append(args, "-compression_level", strconv.Itoa(cfg.CompressionLevel))
	}
	// one GOP per second keeps late joiners waiting at most that long
	args = append(args,
		"-g", strconv.Itoa(cfg.Framerate),
		"-bf", "0",
		"-f", string(cfg.Codec()),
		"pipe:1",
	)
	return args
}

// NewFFmpegEncoder starts the encoder process for channel ch. It implements
// VideoEncoderFactory.
func NewFFmpegEncoder(ch int, cfg ChannelConfig, out PacketWriter) (VideoEncoder, error) {
	layout, err := planeLayout(cfg.PixelFormat, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}

	e := &FFmpegEncoder{
		ch:     ch,
		cfg:    cfg,
		out:    out,
		layout: layout,
		log: logrus.WithFields(logrus.Fields{
			"component": "encoder",
			"channel":   cfg.Name,
		}),
	}

	args := FFmpegArgs(cfg)
	e.cmd = exec.Command(FFmpegBinary, args...)
	e.cmd.Stderr = os.Stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdin pipe error")
	}
	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe error")
	}
	if err := e.cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s for channel %s", cfg.Encoder, cfg.Name)
	}

	e.stdin = stdin
	e.writer = bufio.NewWriterSize(stdin, 256*1024)

	e.wg.Add(1)
	go e.readStream(stdout)

	e.log.WithFields(logrus.Fields{
		"encoder": cfg.Encoder,
		"pix_fmt": cfg.PixelFormat,
		"size":    strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height),
		"bitrate": cfg.Bitrate,
		"pid":     e.cmd.Process.Pid,
	}).Info("Encoder started")
	return e, nil
}

// Encode implements VideoEncoder. Rows are written without their padding.
func (e *FFmpegEncoder) Encode(f *Frame) error {
	if err := e.readErr(); err != nil {
		return err
	}
	if err := writePlanes(e.writer, e.layout, f); err != nil {
		return errors.Wrapf(err, "failed to write %s frame", e.cfg.Name)
	}
	if err := e.writer.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write %s frame", e.cfg.Name)
	}
	return nil
}

func writePlanes(w io.Writer, layout []plane, f *Frame) error {
	for i, p := range layout {
		data, stride := f.Data[i], f.Linesize[i]
		if stride == 0 {
			stride = p.rowBytes
		}
		if stride < p.rowBytes || len(data) < stride*(p.rows-1)+p.rowBytes {
			return errors.Errorf("plane %d too small: %d bytes with stride %d, need %d rows of %d",
				i, len(data), stride, p.rows, p.rowBytes)
		}
		if stride == p.rowBytes {
			if _, err := w.Write(data[:p.rowBytes*p.rows]); err != nil {
				return err
			}
			continue
		}
		for y := 0; y < p.rows; y++ {
			off := y * stride
			if _, err := w.Write(data[off : off+p.rowBytes]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *FFmpegEncoder) readStream(r io.Reader) {
	defer e.wg.Done()

	reader := bufio.NewReaderSize(r, 256*1024)
	readBuf := make([]byte, 256*1024)
	splitter := NewSplitter(512*1024, e.emit)

	for {
		n, err := reader.Read(readBuf)
		if n > 0 {
			splitter.Write(readBuf[:n])
		}
		if err != nil {
			if err != io.EOF {
				e.log.WithError(err).Error("Encoder stream read error")
			}
			break
		}
	}
	splitter.Flush()
	e.log.WithField("packets", e.packets).Info("Encoder stream ended")
}

func (e *FFmpegEncoder) emit(nalu []byte) {
	e.packets++
	err := e.out.WritePacket(Packet{Channel: e.ch, Codec: e.cfg.Codec(), Data: nalu})
	if err != nil {
		e.mu.Lock()
		if e.writeErr == nil {
			e.writeErr = errors.Wrap(err, "failed to forward encoded packet")
		}
		e.mu.Unlock()
	}
}

func (e *FFmpegEncoder) readErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeErr
}

// Close implements VideoEncoder: closing stdin makes ffmpeg drain its
// pipeline before exiting.
func (e *FFmpegEncoder) Close() error {
	flushErr := e.writer.Flush()
	closeErr := e.stdin.Close()
	e.wg.Wait()
	waitErr := e.cmd.Wait()

	switch {
	case flushErr != nil:
		return errors.Wrap(flushErr, "failed to flush encoder input")
	case closeErr != nil:
		return errors.Wrap(closeErr, "failed to close encoder input")
	case waitErr != nil:
		return errors.Wrapf(waitErr, "%s exited", e.cfg.Encoder)
	}
	return e.readErr()
}
