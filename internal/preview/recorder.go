package preview

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/encoder"
)

const writeBufferSize = 64 * 1024

var startCode = []byte{0, 0, 0, 1}

// Recorder remuxes one encoded channel into MP4 files through ffmpeg,
// without re-encoding.
type Recorder struct {
	Channel int
	Codec   encoder.Codec

	mu            sync.RWMutex
	recording     atomic.Bool
	ffmpegCmd     *exec.Cmd
	ffmpegStdin   io.WriteCloser
	writer        *bufio.Writer
	filePath      string
	startTime     time.Time
	bytesWritten  int64
	framesWritten int64
	recordingDir  string
	naluChan      chan []byte
	done          chan struct{}
	wg            sync.WaitGroup
	dropped       atomic.Uint64

	// latest parameter sets by NAL type, written at the head of every file
	paramSets     map[uint8][]byte
	waitingForKey bool

	log *logrus.Entry
}

// RecordingStatus is the JSON view of the recorder.
type RecordingStatus struct {
	Available         bool   `json:"available"`
	Recording         bool   `json:"recording"`
	UnavailableReason string `json:"unavailableReason,omitempty"`
	FilePath          string `json:"filePath,omitempty"`
	StartTime         int64  `json:"startTime,omitempty"`
	DurationMs        int64  `json:"durationMs,omitempty"`
	BytesWritten      int64  `json:"bytesWritten,omitempty"`
	FramesWritten     int64  `json:"framesWritten,omitempty"`
}

// RecordingFile is one finished recording.
type RecordingFile struct {
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"sizeBytes"`
	CreatedAt  int64  `json:"createdAt"`
	DurationMs int64  `json:"durationMs"`
}

// RecordingMeta is stored beside each recording as <file>.meta.
type RecordingMeta struct {
	DurationMs int64  `json:"durationMs"`
	SizeBytes  int64  `json:"sizeBytes"`
	Codec      string `json:"codec"`
}

// NewRecorder records channel ch into recordingDir.
func NewRecorder(recordingDir string, ch int, codec encoder.Codec) *Recorder {
	return &Recorder{
		Channel:      ch,
		Codec:        codec,
		recordingDir: recordingDir,
		naluChan:     make(chan []byte, 500),
		done:         make(chan struct{}),
		paramSets:    make(map[uint8][]byte),
		log:          logrus.WithField("component", "recorder"),
	}
}

// requiredParamSets is VPS+SPS+PPS for HEVC and SPS+PPS for H.264.
func (rm *Recorder) requiredParamSets() []uint8 {
	if rm.Codec == encoder.CodecH264 {
		return []uint8{7, 8}
	}
	return []uint8{32, 33, 34}
}

// Start begins a new recording. It fails until the parameter sets of the
// stream have been seen.
func (rm *Recorder) Start() (*RecordingStatus, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.recording.Load() {
		return nil, fmt.Errorf("recording already in progress")
	}
	for _, t := range rm.requiredParamSets() {
		if rm.paramSets[t] == nil {
			return nil, fmt.Errorf("cannot start recording: parameter sets not yet available (wait for the stream to initialize)")
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	rm.filePath = filepath.Join(rm.recordingDir, fmt.Sprintf("recording_%s.mp4", timestamp))

	rm.ffmpegCmd = exec.Command(encoder.FFmpegBinary,
		"-f", string(rm.Codec),
		"-i", "pipe:0",
		"-c:v", "copy",
		"-movflags", "+faststart",
		"-y",
		rm.filePath,
	)
	rm.ffmpegCmd.Stderr = os.Stderr

	stdin, err := rm.ffmpegCmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
	}
	rm.ffmpegStdin = stdin
	if err := rm.ffmpegCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	rm.writer = bufio.NewWriterSize(stdin, writeBufferSize)
	rm.startTime = time.Now()
	rm.bytesWritten = 0
	rm.framesWritten = 0

	for _, t := range rm.requiredParamSets() {
		n, _ := rm.writer.Write(rm.paramSets[t])
		rm.bytesWritten += int64(n)
	}

	rm.waitingForKey = true
	rm.recording.Store(true)

	rm.log.WithField("file", filepath.Base(rm.filePath)).Info("Recording started, waiting for keyframe...")
	return rm.getStatusLocked(), nil
}

// Stop ends the current recording and finalizes the file.
func (rm *Recorder) Stop() (*RecordingStatus, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.recording.Load() {
		return nil, fmt.Errorf("no recording in progress")
	}
	status := rm.getStatusLocked()
	rm.finishLocked()

	meta := RecordingMeta{
		DurationMs: status.DurationMs,
		SizeBytes:  status.BytesWritten,
		Codec:      string(rm.Codec),
	}
	if metaData, err := json.Marshal(meta); err == nil {
		if err := os.WriteFile(rm.filePath+".meta", metaData, 0o644); err != nil {
			rm.log.WithError(err).Warn("Failed to write recording metadata")
		}
	}

	rm.log.WithField("file", filepath.Base(rm.filePath)).Info("Recording stopped and MP4 finalized")
	return status, nil
}

// finishLocked closes ffmpeg's input and waits for the mux to finish.
func (rm *Recorder) finishLocked() {
	rm.recording.Store(false)
	if rm.writer != nil {
		_ = rm.writer.Flush()
		rm.writer = nil
	}
	if rm.ffmpegStdin != nil {
		_ = rm.ffmpegStdin.Close()
		rm.ffmpegStdin = nil
	}
	if rm.ffmpegCmd != nil {
		if err := rm.ffmpegCmd.Wait(); err != nil {
			rm.log.WithError(err).Warn("ffmpeg exited with error")
		}
		rm.ffmpegCmd = nil
	}
}

// GetStatus returns the current recording status.
func (rm *Recorder) GetStatus() *RecordingStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.getStatusLocked()
}

func (rm *Recorder) getStatusLocked() *RecordingStatus {
	status := &RecordingStatus{
		Available: true,
		Recording: rm.recording.Load(),
	}
	if status.Recording {
		status.FilePath = filepath.Base(rm.filePath)
		status.StartTime = rm.startTime.UnixMilli()
		status.DurationMs = time.Since(rm.startTime).Milliseconds()
		status.BytesWritten = rm.bytesWritten
		status.FramesWritten = rm.framesWritten
	}
	return status
}

// WritePacket implements encoder.PacketWriter. It never blocks the encoder:
// when the queue is full the packet is dropped.
func (rm *Recorder) WritePacket(p encoder.Packet) error {
	if p.Channel != rm.Channel {
		return nil
	}
	nalu := make([]byte, 0, len(startCode)+len(p.Data))
	nalu = append(append(nalu, startCode...), p.Data...)
	select {
	case rm.naluChan <- nalu:
	default:
		rm.dropped.Add(1)
	}
	return nil
}

// ProcessNALUs starts the goroutine that writes queued units.
func (rm *Recorder) ProcessNALUs() {
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		for {
			select {
			case nalu := <-rm.naluChan:
				rm.handleNALU(nalu)
			case <-rm.done:
				return
			}
		}
	}()
}

// handleNALU takes a unit with its 4 byte start code.
func (rm *Recorder) handleNALU(nalu []byte) {
	if len(nalu) <= len(startCode) {
		return
	}
	body := nalu[len(startCode):]

	if encoder.IsParameterSet(rm.Codec, body) {
		rm.mu.Lock()
		rm.paramSets[encoder.NALType(rm.Codec, body)] = append([]byte(nil), nalu...)
		rm.mu.Unlock()
	}

	if !rm.recording.Load() {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.writer == nil {
		return
	}

	if rm.waitingForKey {
		if !encoder.IsKeyframe(rm.Codec, body) {
			return
		}
		rm.waitingForKey = false
		rm.log.Info("Keyframe received, recording video stream...")
	}

	n, err := rm.writer.Write(nalu)
	if err == nil {
		rm.bytesWritten += int64(n)
		if encoder.IsVCL(rm.Codec, body) {
			rm.framesWritten++
		}
	}
}

// ListRecordings returns the MP4 files in the recording directory.
func (rm *Recorder) ListRecordings() ([]RecordingFile, error) {
	entries, err := os.ReadDir(rm.recordingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording directory: %w", err)
	}

	recordings := []RecordingFile{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".mp4" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		recording := RecordingFile{
			Filename:  name,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UnixMilli(),
		}
		if metaData, err := os.ReadFile(filepath.Join(rm.recordingDir, name+".meta")); err == nil {
			var meta RecordingMeta
			if json.Unmarshal(metaData, &meta) == nil {
				recording.DurationMs = meta.DurationMs
			}
		}
		recordings = append(recordings, recording)
	}
	return recordings, nil
}

// GetFilePath resolves a recording name inside the recording directory.
func (rm *Recorder) GetFilePath(filename string) (string, error) {
	// no directory traversal
	filename = filepath.Base(filename)
	if filepath.Ext(filename) != ".mp4" {
		return "", fmt.Errorf("invalid file type")
	}
	fullPath := filepath.Join(rm.recordingDir, filename)
	if _, err := os.Stat(fullPath); err != nil {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}

// Shutdown stops the writer goroutine and finalizes a running recording.
func (rm *Recorder) Shutdown() {
	close(rm.done)
	rm.wg.Wait()

	rm.mu.Lock()
	if rm.recording.Load() {
		rm.finishLocked()
	}
	rm.mu.Unlock()

	if n := rm.dropped.Load(); n > 0 {
		rm.log.WithField("dropped", n).Warn("Recorder dropped packets")
	}
}
