package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aidevro/bugatube/entities"
)

type VideoRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	CreateVideo(ctx context.Context, video *entities.Video) error
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	ListVideos(ctx context.Context) ([]*entities.Video, error)
	ListVideosByChannel(ctx context.Context, channel uuid.UUID) ([]*entities.Video, error)
	DeleteVideo(ctx context.Context, id uuid.UUID) error
	ToggleLike(ctx context.Context, videoId, userId uuid.UUID) ([]uuid.UUID, error)
	AddComment(ctx context.Context, comment *entities.Comment) error
	FindCommentById(ctx context.Context, id uuid.UUID) (*entities.Comment, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error
	ListComments(ctx context.Context, videoId uuid.UUID) ([]*entities.Comment, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) VideoRepository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().Transaction(func(tx *gorm.DB) error {
		err := callback(ctx)
		if err != nil {
			return err
		}
		return nil
	}, opts...)
}

func (r *repo) CreateVideo(ctx context.Context, video *entities.Video) error {
	return r.GetDB().Create(video).Error
}

func (r *repo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.GetDB().First(video, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	if video.Likes, err = r.listLikes(id); err != nil {
		return nil, err
	}
	if video.Comments, err = r.ListComments(ctx, id); err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) ListVideos(ctx context.Context) ([]*entities.Video, error) {
	var videos []*entities.Video
	err := r.GetDB().Order("created_at DESC").Find(&videos).Error
	if err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *repo) ListVideosByChannel(ctx context.Context, channel uuid.UUID) ([]*entities.Video, error) {
	var videos []*entities.Video
	err := r.GetDB().Where("channel = ?", channel).Order("created_at DESC").Find(&videos).Error
	if err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *repo) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	if err := r.GetDB().Where("video_id = ?", id).Delete(&entities.Like{}).Error; err != nil {
		return err
	}
	if err := r.GetDB().Where("video_id = ?", id).Delete(&entities.Comment{}).Error; err != nil {
		return err
	}
	return r.GetDB().Delete(&entities.Video{}, "id = ?", id).Error
}

// ToggleLike adds the user's like, or removes it when already present,
// and returns the remaining likers.
func (r *repo) ToggleLike(ctx context.Context, videoId, userId uuid.UUID) ([]uuid.UUID, error) {
	var count int64
	err := r.GetDB().Model(&entities.Like{}).
		Where("video_id = ? AND user_id = ?", videoId, userId).
		Count(&count).Error
	if err != nil {
		return nil, err
	}

	if count > 0 {
		err = r.GetDB().Where("video_id = ? AND user_id = ?", videoId, userId).Delete(&entities.Like{}).Error
	} else {
		err = r.GetDB().Create(&entities.Like{VideoID: videoId, UserID: userId}).Error
	}
	if err != nil {
		return nil, err
	}

	return r.listLikes(videoId)
}

func (r *repo) listLikes(videoId uuid.UUID) ([]uuid.UUID, error) {
	var likes []*entities.Like
	err := r.GetDB().Where("video_id = ?", videoId).Find(&likes).Error
	if err != nil {
		return nil, err
	}
	users := make([]uuid.UUID, 0, len(likes))
	for _, like := range likes {
		users = append(users, like.UserID)
	}
	return users, nil
}

func (r *repo) AddComment(ctx context.Context, comment *entities.Comment) error {
	return r.GetDB().Create(comment).Error
}

func (r *repo) FindCommentById(ctx context.Context, id uuid.UUID) (*entities.Comment, error) {
	comment := &entities.Comment{}
	err := r.GetDB().First(comment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return comment, nil
}

func (r *repo) DeleteComment(ctx context.Context, id uuid.UUID) error {
	return r.GetDB().Delete(&entities.Comment{}, "id = ?", id).Error
}

func (r *repo) ListComments(ctx context.Context, videoId uuid.UUID) ([]*entities.Comment, error) {
	var comments []*entities.Comment
	err := r.GetDB().Where("video_id = ?", videoId).Order("created_at ASC").Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}
