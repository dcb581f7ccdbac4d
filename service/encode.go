package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aidevro/bugatube/queue"
)

// Rendition is one fixed-resolution encode target.
type Rendition struct {
	Name    string
	Width   int
	Bitrate string
	File    string
}

var renditions = []Rendition{
	{Name: "low", Width: 320, Bitrate: "1M", File: "low.mp4"},
	{Name: "high", Width: 1920, Bitrate: "5M", File: "high.mp4"},
}

const thumbnailFileName = "thumbnail.jpg"

var (
	durationRe = regexp.MustCompile(`Duration: (\d{2}):(\d{2}):(\d{2})`)
	timeRe     = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d{2})`)
)

// encode produces one rendition of the source. The VAAPI path is tried
// first, with its stderr parsed for the source duration and the encode
// position so intra-stage progress can be published. A non-zero exit
// falls back to a blocking libx264 run that reports only the stage
// boundary.
func (s *ingestService) encode(ctx context.Context, job queue.Job, inputPath, outputPath string, width int, bitrate string, stage, stages int) error {
	stageLabel := fmt.Sprintf("Encoding %dp", width)

	args := []string{
		"-vaapi_device", s.cfg.Media.VAAPIDevice,
		"-i", inputPath,
		"-vf", fmt.Sprintf("format=nv12,hwupload,scale_vaapi=%d:-2", width),
		"-c:v", "h264_vaapi",
		"-b:v", bitrate,
		outputPath,
	}
	cmd := exec.CommandContext(ctx, s.cfg.Tools.FFmpeg, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Join(ErrEncode, err)
	}
	if err := cmd.Start(); err != nil {
		return errors.Join(ErrEncode, err)
	}

	// Duration is captured from this invocation's own diagnostics and
	// scoped to it; concurrent jobs never share it.
	var totalDuration float64

	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := scanner.Text()

		if totalDuration == 0 {
			if m := durationRe.FindStringSubmatch(line); m != nil {
				totalDuration = parseClock(m[1], m[2], m[3])
				zerolog.Ctx(ctx).Debug().
					Str("job_id", job.ID.String()).
					Float64("duration_sec", totalDuration).
					Int("width", width).
					Msg("source duration parsed")
			}
		}

		m := timeRe.FindStringSubmatch(line)
		if m == nil || totalDuration <= 0 {
			continue
		}
		position := parseClock(m[1], m[2], m[3])
		stageFraction := math.Min(position/totalDuration, 1.0) * 100
		progress := stageFraction/float64(stages) + float64(stage-1)*(100/float64(stages))
		s.publishProgress(job, stageLabel, progress)
	}

	if err := cmd.Wait(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("job_id", job.ID.String()).
			Int("width", width).
			Msg("hardware encode failed, falling back to libx264")
		return s.encodeFallback(ctx, job, stageLabel, inputPath, outputPath, width, bitrate, stage, stages)
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("output", outputPath).
		Msg("encoded with VAAPI")
	return nil
}

func (s *ingestService) encodeFallback(ctx context.Context, job queue.Job, stageLabel, inputPath, outputPath string, width int, bitrate string, stage, stages int) error {
	// A partial hardware output at the target path would make ffmpeg
	// stop and ask before overwriting.
	os.Remove(outputPath)

	args := []string{
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:-2", width),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", bitrate,
		outputPath,
	}
	out, err := exec.CommandContext(ctx, s.cfg.Tools.FFmpeg, args...).CombinedOutput()
	if err != nil {
		return errors.Join(ErrEncode, fmt.Errorf("libx264 fallback: %w: %s", err, bytes.TrimSpace(out)))
	}

	// The fallback trades intra-stage granularity for robustness:
	// progress jumps straight to the stage boundary.
	s.publishProgress(job, stageLabel, float64(stage)*100/float64(stages))

	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("output", outputPath).
		Msg("encoded with CPU (libx264)")
	return nil
}

// extractThumbnail captures the first frame. Cheap, no fallback; a
// failure fails the job.
func (s *ingestService) extractThumbnail(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-i", inputPath,
		"-vf", `select=eq(n\,0)`,
		"-q:v", "3",
		outputPath,
	}
	out, err := exec.CommandContext(ctx, s.cfg.Tools.FFmpeg, args...).CombinedOutput()
	if err != nil {
		return errors.Join(ErrThumbnail, fmt.Errorf("%w: %s", err, bytes.TrimSpace(out)))
	}
	return nil
}

func parseClock(hh, mm, ss string) float64 {
	h, _ := strconv.ParseFloat(hh, 64)
	m, _ := strconv.ParseFloat(mm, 64)
	s, _ := strconv.ParseFloat(ss, 64)
	return h*3600 + m*60 + s
}

// scanProgressLines splits on \r as well as \n: ffmpeg and yt-dlp
// rewrite their progress lines with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
