package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aidevro/bugatube/auth"
	"github.com/aidevro/bugatube/dto"
	"github.com/aidevro/bugatube/entities"
	"github.com/aidevro/bugatube/notifier"
	"github.com/aidevro/bugatube/queue"
	"github.com/aidevro/bugatube/repository"
	"github.com/aidevro/bugatube/service"
)

type Handler struct {
	svc        service.Service
	registry   *queue.Registry
	repo       repository.VideoRepository
	hub        *notifier.Hub
	uploadsDir string
}

func New(svc service.Service, registry *queue.Registry, repo repository.VideoRepository, hub *notifier.Hub, uploadsDir string) *Handler {
	return &Handler{
		svc:        svc,
		registry:   registry,
		repo:       repo,
		hub:        hub,
		uploadsDir: uploadsDir,
	}
}

func (h *Handler) Register(r *gin.Engine, verifier auth.Verifier) {
	r.GET("/ws", func(c *gin.Context) {
		h.hub.Serve(c.Writer, c.Request)
	})

	api := r.Group("/api/videos")
	api.GET("", h.listVideos)
	api.GET("/:id", h.getVideo)
	api.GET("/channel/:userId", h.listChannelVideos)

	authed := api.Group("", auth.Middleware(verifier))
	authed.POST("/upload", h.upload)
	authed.POST("/youtube", h.remote)
	authed.GET("/queue", h.queueStatus)
	authed.DELETE("/queue/failed", h.clearFailed)
	authed.DELETE("/:id", h.deleteVideo)
	authed.POST("/:id/like", h.likeVideo)
	authed.POST("/:id/comment", h.addComment)
	authed.DELETE("/:id/comment/:commentId", h.deleteComment)
}

func (h *Handler) upload(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)

	title := c.PostForm("title")
	file, err := c.FormFile("video")
	if err != nil || title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Video and title required"})
		return
	}

	// Staged outside the served uploads tree; the raw upload must never
	// be fetchable under /uploads.
	tmpPath := filepath.Join(os.TempDir(), "ingest-"+uuid.NewString())
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}

	id, err := h.svc.SubmitUpload(c.Request.Context(), claims.UserID, title, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, service.ErrInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Video and title required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Video added to queue", "videoId": id})
}

func (h *Handler) remote(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)

	var req dto.RemoteIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL required"})
		return
	}

	id, err := h.svc.SubmitRemote(c.Request.Context(), claims.UserID, req.URL)
	if err != nil {
		if errors.Is(err, service.ErrInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "URL required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue download"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "YouTube video added to queue", "videoId": id})
}

func (h *Handler) queueStatus(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)
	c.JSON(http.StatusOK, h.registry.ItemsByOwner(claims.UserID))
}

func (h *Handler) clearFailed(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)
	h.registry.ClearFailed(claims.UserID)
	h.hub.Broadcast(claims.UserID)
	c.JSON(http.StatusOK, gin.H{"message": "Failed downloads cleared"})
}

func (h *Handler) listVideos(c *gin.Context) {
	videos, err := h.repo.ListVideos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch videos"})
		return
	}
	c.JSON(http.StatusOK, videos)
}

func (h *Handler) getVideo(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID"})
		return
	}

	video, err := h.repo.FindVideoById(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch video"})
		return
	}
	c.JSON(http.StatusOK, video)
}

func (h *Handler) listChannelVideos(c *gin.Context) {
	userId, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	videos, err := h.repo.ListVideosByChannel(c.Request.Context(), userId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch channel videos"})
		return
	}
	c.JSON(http.StatusOK, videos)
}

func (h *Handler) deleteVideo(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID"})
		return
	}

	video, err := h.repo.FindVideoById(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete video"})
		return
	}

	if video.UploadedBy != claims.UserID && !claims.Admin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
		return
	}

	os.RemoveAll(filepath.Join(h.uploadsDir, id.String()))
	if err := h.repo.DeleteVideo(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete video"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Video deleted"})
}

func (h *Handler) likeVideo(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID"})
		return
	}

	if _, err := h.repo.FindVideoById(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to like video"})
		return
	}

	likes, err := h.repo.ToggleLike(c.Request.Context(), id, claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to like video"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"likes": likes})
}

func (h *Handler) addComment(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID"})
		return
	}

	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Comment text required"})
		return
	}

	if _, err := h.repo.FindVideoById(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add comment"})
		return
	}

	comment := &entities.Comment{
		ID:      uuid.New(),
		VideoID: id,
		UserID:  claims.UserID,
		Text:    req.Text,
	}
	if err := h.repo.AddComment(c.Request.Context(), comment); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add comment"})
		return
	}

	comments, err := h.repo.ListComments(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add comment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *Handler) deleteComment(c *gin.Context) {
	claims, _ := auth.CurrentUser(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video ID"})
		return
	}
	commentId, err := uuid.Parse(c.Param("commentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid comment ID"})
		return
	}

	comment, err := h.repo.FindCommentById(c.Request.Context(), commentId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Comment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete comment"})
		return
	}

	if comment.UserID != claims.UserID && !claims.Admin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.repo.DeleteComment(c.Request.Context(), commentId); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete comment"})
		return
	}

	comments, err := h.repo.ListComments(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete comment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}
