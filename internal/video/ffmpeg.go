package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/andresmejia3/obscura/internal/utils"
)

// Info is the subset of ffprobe stream metadata the pipeline needs.
type Info struct {
	Width  int
	Height int
	// FPS is 0 when the container carries no usable rate.
	FPS    float64
	Frames int
}

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry, rate and frame count.
func Probe(ctx context.Context, path string) (*Info, error) {
	cmd := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "ffprobe", withLogs(err, cmd))
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "ffprobe JSON parse", err)
	}
	if len(res.Streams) == 0 {
		return nil, apperr.Newf(apperr.DecodeFailure, "%s has no video stream", path)
	}
	s := res.Streams[0]
	info := &Info{Width: s.Width, Height: s.Height}
	if info.FPS = ParseRate(s.AvgFrameRate); info.FPS == 0 {
		info.FPS = ParseRate(s.RFrameRate)
	}
	info.Frames, _ = strconv.Atoi(s.NbFrames)
	return info, nil
}

// CountFrames counts packets when the container metadata has no frame count.
// It returns 0 if the count fails, so callers fall back to a spinner.
func CountFrames(ctx context.Context, path string) int {
	cmd := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	var res ffprobeOutput
	if json.Unmarshal(out, &res) != nil || len(res.Streams) == 0 {
		return 0
	}
	count, _ := strconv.Atoi(res.Streams[0].NbReadPackets)
	return count
}

// ParseRate converts an ffprobe rational such as "30000/1001" to frames per second.
func ParseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}

// FPSMode selects how the output frame rate is chosen.
type FPSMode string

const (
	FPSSource FPSMode = "source"
	FPSFixed  FPSMode = "fixed"
)

// DefaultFPS is used in fixed mode and whenever the source rate is unknown.
const DefaultFPS = 30.0

// ResolveFPS picks the output rate for mode.
func ResolveFPS(mode FPSMode, fixed float64, info *Info) float64 {
	if fixed <= 0 {
		fixed = DefaultFPS
	}
	if mode == FPSSource && info != nil && info.FPS > 0 {
		return info.FPS
	}
	return fixed
}

func withLogs(err error, cmd *utils.SafeCommand) error {
	if err == nil {
		return nil
	}
	if logs := cmd.Logs(); logs != "" {
		return fmt.Errorf("%w: %s", err, logs)
	}
	return err
}

// FFmpegSource decodes a video to raw RGBA frames on ffmpeg's stdout.
type FFmpegSource struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	width  int
	height int
	read   int
	done   bool
	pool   sync.Pool
}

// OpenSource starts the decoder. Frames are width x height as reported by Probe.
func OpenSource(ctx context.Context, path string, info *Info) (*FFmpegSource, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, apperr.Newf(apperr.DecodeFailure, "invalid video geometry %dx%d", info.Width, info.Height)
	}
	// -hide_banner and -loglevel error keep the stderr buffer small.
	// rawvideo output defaults to constant frame rate, which duplicates or drops
	// frames of variable rate sources; passthrough emits every decoded frame once.
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", path, "-fps_mode", "passthrough", "-f", "rawvideo", "-pix_fmt", "rgba", "-")
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "decoder pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "start decoder", err)
	}
	s := &FFmpegSource{cmd: cmd, out: out, width: info.Width, height: info.Height}
	frameSize := info.Width * info.Height * 4
	s.pool.New = func() interface{} { return make([]byte, frameSize) }
	return s, nil
}

func (s *FFmpegSource) Next(ctx context.Context) (*image.RGBA, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := s.pool.Get().([]byte)
	if _, err := io.ReadFull(s.out, buf); err != nil {
		s.pool.Put(buf)
		s.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if werr := s.cmd.Wait(); werr != nil {
				return nil, apperr.New(apperr.DecodeFailure, "decoder exited", withLogs(werr, s.cmd))
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("decoder produced a truncated trailing frame", "frames", s.read)
			}
			return nil, io.EOF
		}
		return nil, apperr.New(apperr.DecodeFailure, "read frame", err)
	}
	s.read++
	return &image.RGBA{
		Pix:    buf,
		Stride: s.width * 4,
		Rect:   image.Rect(0, 0, s.width, s.height),
	}, nil
}

// Recycle returns a written frame's buffer to the pool.
func (s *FFmpegSource) Recycle(frame *image.RGBA) {
	if len(frame.Pix) == s.width*s.height*4 {
		s.pool.Put(frame.Pix)
	}
}

func (s *FFmpegSource) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.out.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// FFmpegSink encodes raw RGBA frames written to ffmpeg's stdin.
type FFmpegSink struct {
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	width  int
	height int
}

// codecArgs maps a fourcc-style codec name to ffmpeg encoder flags.
func codecArgs(codec string) []string {
	switch strings.ToLower(codec) {
	case "", "mp4v":
		return []string{"-c:v", "mpeg4", "-tag:v", "mp4v", "-q:v", "2"}
	case "avc1", "h264":
		return []string{"-c:v", "libx264", "-tag:v", "avc1", "-pix_fmt", "yuv420p"}
	default:
		return []string{"-c:v", codec}
	}
}

// NewSinkOpener returns a SinkOpener writing path at fps with codec.
func NewSinkOpener(ctx context.Context, path string, fps float64, codec string) SinkOpener {
	return func(width, height int) (Sink, error) {
		args := []string{"-y", "-hide_banner", "-loglevel", "error",
			"-f", "rawvideo", "-pix_fmt", "rgba",
			"-s", fmt.Sprintf("%dx%d", width, height),
			"-r", strconv.FormatFloat(fps, 'f', -1, 64),
			"-i", "-"}
		args = append(args, codecArgs(codec)...)
		args = append(args, path)

		cmd := utils.NewSafeCommand(ctx, "ffmpeg", args...)
		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return &FFmpegSink{cmd: cmd, in: in, width: width, height: height}, nil
	}
}

func (s *FFmpegSink) Write(frame *image.RGBA) error {
	if sz := frame.Bounds().Size(); sz.X != s.width || sz.Y != s.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", sz.X, sz.Y, s.width, s.height)
	}
	rowBytes := s.width * 4
	if frame.Stride == rowBytes {
		_, err := s.in.Write(frame.Pix[:rowBytes*s.height])
		return withLogs(err, s.cmd)
	}
	for y := 0; y < s.height; y++ {
		off := frame.PixOffset(frame.Rect.Min.X, frame.Rect.Min.Y+y)
		if _, err := s.in.Write(frame.Pix[off : off+rowBytes]); err != nil {
			return withLogs(err, s.cmd)
		}
	}
	return nil
}

func (s *FFmpegSink) Close() error {
	s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		return withLogs(err, s.cmd)
	}
	return nil
}
