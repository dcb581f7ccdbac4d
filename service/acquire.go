package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aidevro/bugatube/constant"
	"github.com/aidevro/bugatube/queue"
)

const downloadFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

var downloadRe = regexp.MustCompile(`\[download\]\s+(\d{1,3}\.\d)%`)

// fetchTitle resolves the display title for a remote URL via a
// metadata-only probe.
func (s *ingestService) fetchTitle(ctx context.Context, url string) (string, error) {
	args := []string{"--cookies", s.cfg.Media.CookiesFile, "--get-title", url}
	cmd := exec.CommandContext(ctx, s.cfg.Tools.YtDlp, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errors.Join(ErrAcquisition, fmt.Errorf("title probe: %w: %s", err, bytes.TrimSpace(stderr.Bytes())))
	}

	title := strings.TrimSpace(stdout.String())
	if title == "" {
		return "", errors.Join(ErrAcquisition, errors.New("title probe returned empty output"))
	}
	return title, nil
}

// download fetches the remote source merged into a single mp4,
// publishing download progress as the first third of overall job
// progress.
func (s *ingestService) download(ctx context.Context, job queue.Job, outputPath string) error {
	args := []string{
		"--cookies", s.cfg.Media.CookiesFile,
		"-f", downloadFormat,
		"--merge-output-format", "mp4",
		"-o", outputPath,
		job.URL,
		"--verbose",
	}
	cmd := exec.CommandContext(ctx, s.cfg.Tools.YtDlp, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Join(ErrAcquisition, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Join(ErrAcquisition, err)
	}

	if err := cmd.Start(); err != nil {
		return errors.Join(ErrAcquisition, err)
	}

	// yt-dlp writes progress to stdout normally and to stderr in
	// verbose mode; watch both.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.watchDownloadProgress(job, stdout)
	}()
	go func() {
		defer wg.Done()
		s.watchDownloadProgress(job, stderr)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return errors.Join(ErrAcquisition, fmt.Errorf("yt-dlp: %w", err))
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("output", outputPath).
		Msg("download completed")
	return nil
}

func (s *ingestService) watchDownloadProgress(job queue.Job, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		m := downloadRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		// Download occupies the first of three stage weights.
		s.publishProgress(job, constant.StageDownloading, pct/totalStages)
	}
}

// reconcileDownload handles the case where yt-dlp merged into a
// different extension than requested: a same-stem file is remuxed to
// the expected mp4 and the original discarded. Its own failure is
// fatal to the job.
func (s *ingestService) reconcileDownload(ctx context.Context, workDir, outputPath string) error {
	if _, err := os.Stat(outputPath); err == nil {
		return nil
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return errors.Join(ErrAcquisition, err)
	}

	want := filepath.Base(outputPath)
	actual := ""
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); name != want && strings.HasPrefix(name, want) {
			actual = filepath.Join(workDir, name)
			break
		}
	}
	if actual == "" {
		return errors.Join(ErrAcquisition, fmt.Errorf("downloaded file not found: %s", outputPath))
	}

	zerolog.Ctx(ctx).Info().
		Str("actual", actual).
		Str("expected", outputPath).
		Msg("remuxing download with unexpected extension")

	tempPath := filepath.Join(workDir, "temp.mp4")
	args := []string{
		"-i", actual,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "mp4",
		tempPath,
	}
	out, err := exec.CommandContext(ctx, s.cfg.Tools.FFmpeg, args...).CombinedOutput()
	if err != nil {
		return errors.Join(ErrAcquisition, fmt.Errorf("remux: %w: %s", err, bytes.TrimSpace(out)))
	}

	if err := os.Rename(tempPath, outputPath); err != nil {
		return errors.Join(ErrAcquisition, err)
	}
	if err := os.Remove(actual); err != nil {
		return errors.Join(ErrAcquisition, err)
	}
	return nil
}
