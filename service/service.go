package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/aidevro/bugatube/config"
	"github.com/aidevro/bugatube/constant"
	"github.com/aidevro/bugatube/dto"
	"github.com/aidevro/bugatube/entities"
	"github.com/aidevro/bugatube/pkg/rabbitmq"
	"github.com/aidevro/bugatube/queue"
)

var (
	ErrInput       = errors.New("invalid input")
	ErrAcquisition = errors.New("acquisition failed")
	ErrEncode      = errors.New("encode failed")
	ErrThumbnail   = errors.New("thumbnail extraction failed")
	ErrPersistence = errors.New("catalog write failed")
)

// A job is download (remote only) plus two encodes; each stage weighs
// a third of overall progress.
const totalStages = 3

const sourceFileName = "video.mp4"

// Notifier pushes the owner's current queue to their live connections.
type Notifier interface {
	Broadcast(owner uuid.UUID)
}

// Catalog persists the finished asset record. Called exactly once per
// job, at the success terminal transition.
type Catalog interface {
	CreateVideo(ctx context.Context, video *entities.Video) error
}

type Service interface {
	SubmitUpload(ctx context.Context, owner uuid.UUID, title, uploadedPath string) (uuid.UUID, error)
	SubmitRemote(ctx context.Context, owner uuid.UUID, url string) (uuid.UUID, error)
}

const defaultWorkers = 4

type ingestService struct {
	cfg      *config.Config
	base     context.Context
	registry *queue.Registry
	notifier Notifier
	catalog  Catalog
	events   *rabbitmq.Publisher

	// slots bounds concurrent pipelines; an accepted job past the cap
	// waits here as pending before any subprocess is spawned.
	slots chan struct{}
}

// NewService builds the ingest pipeline orchestrator. base outlives
// any single request and carries the process logger; detached pipeline
// goroutines run on it so they survive the originating request and die
// with the server.
func NewService(base context.Context, cfg *config.Config, registry *queue.Registry, notifier Notifier, catalog Catalog, events *rabbitmq.Publisher) Service {
	workers := cfg.Server.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &ingestService{
		cfg:      cfg,
		base:     base,
		registry: registry,
		notifier: notifier,
		catalog:  catalog,
		events:   events,
		slots:    make(chan struct{}, workers),
	}
}

func (s *ingestService) SubmitUpload(ctx context.Context, owner uuid.UUID, title, uploadedPath string) (uuid.UUID, error) {
	if strings.TrimSpace(title) == "" || uploadedPath == "" {
		return uuid.Nil, errors.Join(ErrInput, errors.New("video and title required"))
	}

	job := queue.Job{
		ID:      uuid.New(),
		OwnerID: owner,
		Source:  constant.SourceUpload,
		Title:   title,
		Status:  constant.JobStatusPending,
		Stage:   fmt.Sprintf("Encoding %dp", renditions[0].Width),
	}
	s.registry.Create(job)
	s.notifier.Broadcast(owner)
	s.publishEvent(s.base, job.ID)

	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("title", title).
		Msg("queued upload ingest")

	go s.runUpload(s.base, job, uploadedPath)
	return job.ID, nil
}

func (s *ingestService) SubmitRemote(ctx context.Context, owner uuid.UUID, url string) (uuid.UUID, error) {
	if strings.TrimSpace(url) == "" {
		return uuid.Nil, errors.Join(ErrInput, errors.New("url required"))
	}

	// Title probe runs before the job exists, so a dead URL is
	// reported synchronously and nothing is registered.
	title, err := s.fetchTitle(ctx, url)
	if err != nil {
		return uuid.Nil, err
	}

	job := queue.Job{
		ID:      uuid.New(),
		OwnerID: owner,
		Source:  constant.SourceRemote,
		URL:     url,
		Title:   title,
		Status:  constant.JobStatusPending,
		Stage:   constant.StageDownloading,
	}
	s.registry.Create(job)
	s.notifier.Broadcast(owner)
	s.publishEvent(s.base, job.ID)

	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("url", url).
		Str("title", title).
		Msg("queued remote ingest")

	go s.runRemote(s.base, job)
	return job.ID, nil
}

func (s *ingestService) runUpload(ctx context.Context, job queue.Job, uploadedPath string) {
	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	workDir := filepath.Join(s.cfg.Media.UploadsDir, job.ID.String())

	var err error
	defer func() {
		if err != nil {
			os.Remove(uploadedPath)
			s.failJob(ctx, job, workDir, err)
		}
	}()

	if err = os.MkdirAll(workDir, os.ModePerm); err != nil {
		err = errors.Join(ErrAcquisition, err)
		return
	}

	sourcePath := filepath.Join(workDir, sourceFileName)
	if err = moveFile(uploadedPath, sourcePath); err != nil {
		err = errors.Join(ErrAcquisition, err)
		return
	}

	err = s.transcodeAndPersist(ctx, job, workDir, sourcePath, 1)
}

func (s *ingestService) runRemote(ctx context.Context, job queue.Job) {
	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	workDir := filepath.Join(s.cfg.Media.UploadsDir, job.ID.String())

	var err error
	defer func() {
		if err != nil {
			s.failJob(ctx, job, workDir, err)
		}
	}()

	if err = os.MkdirAll(workDir, os.ModePerm); err != nil {
		err = errors.Join(ErrAcquisition, err)
		return
	}

	sourcePath := filepath.Join(workDir, sourceFileName)
	if err = s.download(ctx, job, sourcePath); err != nil {
		return
	}
	if err = s.reconcileDownload(ctx, workDir, sourcePath); err != nil {
		return
	}

	err = s.transcodeAndPersist(ctx, job, workDir, sourcePath, 2)
}

// transcodeAndPersist runs the shared tail of both pipelines: the two
// rendition encodes, thumbnail extraction, the catalog write, source
// cleanup and the completed transition.
func (s *ingestService) transcodeAndPersist(ctx context.Context, job queue.Job, workDir, sourcePath string, firstStage int) error {
	for i, r := range renditions {
		outputPath := filepath.Join(workDir, r.File)
		if err := s.encode(ctx, job, sourcePath, outputPath, r.Width, r.Bitrate, firstStage+i, totalStages); err != nil {
			return err
		}
	}

	thumbnailPath := filepath.Join(workDir, thumbnailFileName)
	if err := s.extractThumbnail(ctx, sourcePath, thumbnailPath); err != nil {
		return err
	}

	video := &entities.Video{
		ID:            job.ID,
		Title:         job.Title,
		UploadedBy:    job.OwnerID,
		Channel:       job.OwnerID,
		LowPath:       publicPath(job.ID, renditions[0].File),
		HighPath:      publicPath(job.ID, renditions[1].File),
		ThumbnailPath: publicPath(job.ID, thumbnailFileName),
	}
	if err := s.catalog.CreateVideo(ctx, video); err != nil {
		return errors.Join(ErrPersistence, err)
	}

	if err := os.Remove(sourcePath); err != nil {
		// The asset is already cataloged and its renditions are being
		// served; a leftover source is log-worthy, not a job failure.
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to remove source file")
	}

	s.archive(ctx, job, workDir)

	s.registry.Complete(job.ID)
	s.notifier.Broadcast(job.OwnerID)
	s.publishEvent(ctx, job.ID)

	zerolog.Ctx(ctx).Info().Str("job_id", job.ID.String()).Msg("ingest job completed")
	return nil
}

func (s *ingestService) failJob(ctx context.Context, job queue.Job, workDir string, cause error) {
	zerolog.Ctx(ctx).Error().Err(cause).Str("job_id", job.ID.String()).Msg("ingest job failed")

	s.registry.Fail(job.ID)
	s.notifier.Broadcast(job.OwnerID)
	s.publishEvent(ctx, job.ID)

	if err := os.RemoveAll(workDir); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to remove working directory")
	}
}

func (s *ingestService) publishProgress(job queue.Job, stage string, progress float64) {
	if _, ok := s.registry.Progress(job.ID, stage, progress); !ok {
		return
	}
	s.notifier.Broadcast(job.OwnerID)
}

func (s *ingestService) publishEvent(ctx context.Context, jobID uuid.UUID) {
	if s.events == nil {
		return
	}
	job, ok := s.registry.Get(jobID)
	if !ok {
		return
	}
	err := s.events.PublishJobEvent(ctx, dto.JobEvent{
		JobID:    job.ID,
		OwnerID:  job.OwnerID,
		Status:   job.Status,
		Stage:    job.Stage,
		Progress: job.Progress,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to publish job event")
	}
}

// archive mirrors the finished renditions to object storage when a
// client is configured. Failures are logged and never fail the job.
func (s *ingestService) archive(ctx context.Context, job queue.Job, workDir string) {
	if s.cfg.Storage == nil {
		return
	}

	err := filepath.Walk(workDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relativePath, err := filepath.Rel(workDir, p)
		if err != nil {
			return err
		}
		objectName := path.Join("videos", job.ID.String(), filepath.ToSlash(relativePath))
		_, uploadErr := s.cfg.Storage.FPutObject(ctx, s.cfg.MinIOBucket, objectName, p, minio.PutObjectOptions{})
		return uploadErr
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to archive renditions")
		return
	}
	zerolog.Ctx(ctx).Info().Str("job_id", job.ID.String()).Msg("renditions archived to object storage")
}

func publicPath(id uuid.UUID, name string) string {
	return path.Join("/uploads", id.String(), name)
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to copy and remove.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
