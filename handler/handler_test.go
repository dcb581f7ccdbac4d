package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aidevro/bugatube/auth"
	"github.com/aidevro/bugatube/constant"
	"github.com/aidevro/bugatube/dto"
	"github.com/aidevro/bugatube/entities"
	"github.com/aidevro/bugatube/notifier"
	"github.com/aidevro/bugatube/queue"
)

type fakeIngest struct {
	mu      sync.Mutex
	titles  []string
	paths   []string
	urls    []string
	lastID  uuid.UUID
	nextErr error
}

func (f *fakeIngest) SubmitUpload(_ context.Context, _ uuid.UUID, title, path string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return uuid.Nil, f.nextErr
	}
	f.titles = append(f.titles, title)
	f.paths = append(f.paths, path)
	f.lastID = uuid.New()
	return f.lastID, nil
}

func (f *fakeIngest) SubmitRemote(_ context.Context, _ uuid.UUID, url string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return uuid.Nil, f.nextErr
	}
	f.urls = append(f.urls, url)
	f.lastID = uuid.New()
	return f.lastID, nil
}

// fakeRepo is an in-memory VideoRepository; missing rows surface as
// gorm.ErrRecordNotFound exactly like the real one.
type fakeRepo struct {
	mu       sync.Mutex
	videos   map[uuid.UUID]*entities.Video
	comments map[uuid.UUID]*entities.Comment
	deleted  []uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		videos:   make(map[uuid.UUID]*entities.Video),
		comments: make(map[uuid.UUID]*entities.Comment),
	}
}

func (f *fakeRepo) GetDB() *gorm.DB { return nil }

func (f *fakeRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, _ ...*sql.TxOptions) error {
	return callback(ctx)
}

func (f *fakeRepo) CreateVideo(_ context.Context, video *entities.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos[video.ID] = video
	return nil
}

func (f *fakeRepo) FindVideoById(_ context.Context, id uuid.UUID) (*entities.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	video, ok := f.videos[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return video, nil
}

func (f *fakeRepo) ListVideos(context.Context) ([]*entities.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	videos := make([]*entities.Video, 0, len(f.videos))
	for _, v := range f.videos {
		videos = append(videos, v)
	}
	return videos, nil
}

func (f *fakeRepo) ListVideosByChannel(_ context.Context, channel uuid.UUID) ([]*entities.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var videos []*entities.Video
	for _, v := range f.videos {
		if v.Channel == channel {
			videos = append(videos, v)
		}
	}
	return videos, nil
}

func (f *fakeRepo) DeleteVideo(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.videos, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) ToggleLike(_ context.Context, videoId, userId uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	video := f.videos[videoId]
	for i, id := range video.Likes {
		if id == userId {
			video.Likes = append(video.Likes[:i], video.Likes[i+1:]...)
			return video.Likes, nil
		}
	}
	video.Likes = append(video.Likes, userId)
	return video.Likes, nil
}

func (f *fakeRepo) AddComment(_ context.Context, comment *entities.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[comment.ID] = comment
	return nil
}

func (f *fakeRepo) FindCommentById(_ context.Context, id uuid.UUID) (*entities.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return comment, nil
}

func (f *fakeRepo) DeleteComment(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, id)
	return nil
}

func (f *fakeRepo) ListComments(_ context.Context, videoId uuid.UUID) ([]*entities.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comments := make([]*entities.Comment, 0)
	for _, c := range f.comments {
		if c.VideoID == videoId {
			comments = append(comments, c)
		}
	}
	return comments, nil
}

type env struct {
	router     *gin.Engine
	ingest     *fakeIngest
	repo       *fakeRepo
	registry   *queue.Registry
	verifier   *auth.JWT
	uploadsDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := queue.NewRegistry()
	verifier := auth.NewJWT("secret")
	hub := notifier.NewHub(verifier, registry, zerolog.Nop())
	ingest := &fakeIngest{}
	repo := newFakeRepo()
	uploadsDir := t.TempDir()

	h := New(ingest, registry, repo, hub, uploadsDir)
	router := gin.New()
	h.Register(router, verifier)

	return &env{router: router, ingest: ingest, repo: repo, registry: registry, verifier: verifier, uploadsDir: uploadsDir}
}

func (e *env) token(t *testing.T, user uuid.UUID, role string) string {
	t.Helper()
	token, err := e.verifier.Sign(auth.Claims{UserID: user, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func (e *env) do(method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body["error"]
}

func multipartUpload(t *testing.T, title string, withFile bool) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		mw.WriteField("title", title)
	}
	if withFile {
		fw, err := mw.CreateFormFile("video", "clip.mp4")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write([]byte("not really a video"))
	}
	mw.Close()
	return mw.FormDataContentType(), &buf
}

func TestUploadRequiresAuth(t *testing.T) {
	e := newEnv(t)
	contentType, body := multipartUpload(t, "clip", true)

	w := e.do(http.MethodPost, "/api/videos/upload", "", contentType, body)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := errorBody(t, w); got != "No token provided" {
		t.Errorf("error = %q", got)
	}
}

func TestUploadRequiresTitleAndFile(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, uuid.New(), constant.RoleUser)

	contentType, body := multipartUpload(t, "", true)
	w := e.do(http.MethodPost, "/api/videos/upload", token, contentType, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing title: status = %d, want 400", w.Code)
	}
	if got := errorBody(t, w); got != "Video and title required" {
		t.Errorf("error = %q", got)
	}

	contentType, body = multipartUpload(t, "clip", false)
	w = e.do(http.MethodPost, "/api/videos/upload", token, contentType, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status = %d, want 400", w.Code)
	}
}

func TestUploadQueuesJob(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, uuid.New(), constant.RoleUser)

	contentType, body := multipartUpload(t, "My Movie", true)
	w := e.do(http.MethodPost, "/api/videos/upload", token, contentType, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Message string    `json:"message"`
		VideoID uuid.UUID `json:"videoId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "Video added to queue" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.VideoID != e.ingest.lastID {
		t.Errorf("videoId = %v, want %v", resp.VideoID, e.ingest.lastID)
	}
	if len(e.ingest.titles) != 1 || e.ingest.titles[0] != "My Movie" {
		t.Errorf("submitted titles = %v", e.ingest.titles)
	}

	// The staged file lives outside the statically served uploads dir,
	// so the raw upload is never reachable over /uploads.
	staged := e.ingest.paths[0]
	if strings.HasPrefix(staged, e.uploadsDir+string(os.PathSeparator)) {
		t.Errorf("upload staged inside the served directory: %s", staged)
	}
	if _, err := os.Stat(staged); err != nil {
		t.Errorf("staged upload missing: %v", err)
	}
	os.Remove(staged)
}

func TestRemoteRequiresURL(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, uuid.New(), constant.RoleUser)

	w := e.do(http.MethodPost, "/api/videos/youtube", token, "application/json", strings.NewReader(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := errorBody(t, w); got != "URL required" {
		t.Errorf("error = %q", got)
	}
}

func TestRemoteQueuesDownload(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, uuid.New(), constant.RoleUser)

	w := e.do(http.MethodPost, "/api/videos/youtube", token, "application/json",
		strings.NewReader(`{"url":"https://example.com/watch?v=abc"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(e.ingest.urls) != 1 || e.ingest.urls[0] != "https://example.com/watch?v=abc" {
		t.Errorf("submitted urls = %v", e.ingest.urls)
	}
}

func TestRemoteFailureMapsTo500(t *testing.T) {
	e := newEnv(t)
	e.ingest.nextErr = errors.New("title probe failed")
	token := e.token(t, uuid.New(), constant.RoleUser)

	w := e.do(http.MethodPost, "/api/videos/youtube", token, "application/json",
		strings.NewReader(`{"url":"https://example.com/watch?v=dead"}`))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := errorBody(t, w); got != "Failed to queue download" {
		t.Errorf("error = %q", got)
	}
}

func TestQueueStatusReturnsOwnJobsOnly(t *testing.T) {
	e := newEnv(t)
	alice := uuid.New()
	bob := uuid.New()

	e.registry.Create(queue.Job{ID: uuid.New(), OwnerID: alice, Title: "mine", Status: constant.JobStatusPending})
	e.registry.Create(queue.Job{ID: uuid.New(), OwnerID: bob, Title: "theirs", Status: constant.JobStatusPending})

	w := e.do(http.MethodGet, "/api/videos/queue", e.token(t, alice, constant.RoleUser), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var items []dto.QueueItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Title != "mine" {
		t.Errorf("items = %+v, want only alice's job", items)
	}
}

func TestClearFailedScopedToOwner(t *testing.T) {
	e := newEnv(t)
	alice := uuid.New()
	bob := uuid.New()

	e.registry.Create(queue.Job{ID: uuid.New(), OwnerID: alice, Status: constant.JobStatusFailed})
	pendingID := uuid.New()
	e.registry.Create(queue.Job{ID: pendingID, OwnerID: alice, Status: constant.JobStatusPending})
	e.registry.Create(queue.Job{ID: uuid.New(), OwnerID: bob, Status: constant.JobStatusFailed})

	w := e.do(http.MethodDelete, "/api/videos/queue/failed", e.token(t, alice, constant.RoleUser), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	aliceJobs := e.registry.ListByOwner(alice)
	if len(aliceJobs) != 1 || aliceJobs[0].ID != pendingID {
		t.Errorf("alice's jobs = %+v, want only the pending one", aliceJobs)
	}
	if bobJobs := e.registry.ListByOwner(bob); len(bobJobs) != 1 {
		t.Errorf("bob's jobs = %+v, should be untouched", bobJobs)
	}
}

func TestGetVideo(t *testing.T) {
	e := newEnv(t)
	video := &entities.Video{ID: uuid.New(), Title: "clip", UploadedBy: uuid.New()}
	e.repo.CreateVideo(context.Background(), video)

	w := e.do(http.MethodGet, "/api/videos/"+video.ID.String(), "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = e.do(http.MethodGet, "/api/videos/"+uuid.NewString(), "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing video: status = %d, want 404", w.Code)
	}
	if got := errorBody(t, w); got != "Video not found" {
		t.Errorf("error = %q", got)
	}

	w = e.do(http.MethodGet, "/api/videos/not-a-uuid", "", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status = %d, want 400", w.Code)
	}
}

func TestDeleteVideoOwnership(t *testing.T) {
	e := newEnv(t)
	alice := uuid.New()
	bob := uuid.New()
	video := &entities.Video{ID: uuid.New(), Title: "clip", UploadedBy: alice}
	e.repo.CreateVideo(context.Background(), video)

	w := e.do(http.MethodDelete, "/api/videos/"+video.ID.String(), e.token(t, bob, constant.RoleUser), "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger delete: status = %d, want 403", w.Code)
	}

	w = e.do(http.MethodDelete, "/api/videos/"+video.ID.String(), e.token(t, alice, constant.RoleUser), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner delete: status = %d, want 200", w.Code)
	}
	if len(e.repo.deleted) != 1 || e.repo.deleted[0] != video.ID {
		t.Errorf("deleted = %v", e.repo.deleted)
	}
}

func TestAdminCanDeleteAnyVideo(t *testing.T) {
	e := newEnv(t)
	video := &entities.Video{ID: uuid.New(), Title: "clip", UploadedBy: uuid.New()}
	e.repo.CreateVideo(context.Background(), video)

	w := e.do(http.MethodDelete, "/api/videos/"+video.ID.String(), e.token(t, uuid.New(), constant.RoleAdmin), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin delete: status = %d, want 200", w.Code)
	}
}

func TestCommentLifecycle(t *testing.T) {
	e := newEnv(t)
	alice := uuid.New()
	bob := uuid.New()
	video := &entities.Video{ID: uuid.New(), Title: "clip", UploadedBy: alice}
	e.repo.CreateVideo(context.Background(), video)

	base := "/api/videos/" + video.ID.String()

	w := e.do(http.MethodPost, base+"/comment", e.token(t, alice, constant.RoleUser), "application/json",
		strings.NewReader(`{"text":""}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty comment: status = %d, want 400", w.Code)
	}

	w = e.do(http.MethodPost, base+"/comment", e.token(t, alice, constant.RoleUser), "application/json",
		strings.NewReader(`{"text":"nice"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("add comment: status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Comments []*entities.Comment `json:"comments"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Comments) != 1 || resp.Comments[0].Text != "nice" {
		t.Fatalf("comments = %+v", resp.Comments)
	}
	commentID := resp.Comments[0].ID

	w = e.do(http.MethodDelete, base+"/comment/"+commentID.String(), e.token(t, bob, constant.RoleUser), "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger delete comment: status = %d, want 403", w.Code)
	}

	w = e.do(http.MethodDelete, base+"/comment/"+commentID.String(), e.token(t, alice, constant.RoleUser), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner delete comment: status = %d", w.Code)
	}
	if comments, _ := e.repo.ListComments(context.Background(), video.ID); len(comments) != 0 {
		t.Errorf("comments remain: %+v", comments)
	}
}

func TestLikeToggles(t *testing.T) {
	e := newEnv(t)
	alice := uuid.New()
	video := &entities.Video{ID: uuid.New(), Title: "clip", UploadedBy: alice}
	e.repo.CreateVideo(context.Background(), video)

	path := "/api/videos/" + video.ID.String() + "/like"
	token := e.token(t, alice, constant.RoleUser)

	w := e.do(http.MethodPost, path, token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("like: status = %d", w.Code)
	}
	var resp struct {
		Likes []uuid.UUID `json:"likes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Likes) != 1 || resp.Likes[0] != alice {
		t.Fatalf("likes = %v, want [alice]", resp.Likes)
	}

	w = e.do(http.MethodPost, path, token, "", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Likes) != 0 {
		t.Fatalf("likes after toggle off = %v, want empty", resp.Likes)
	}
}
