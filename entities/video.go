package entities

import (
	"time"

	"github.com/google/uuid"
)

// Video is a persisted catalog asset. The id matches the ingest job id
// that produced it.
type Video struct {
	ID            uuid.UUID   `json:"id" gorm:"primaryKey"`
	Title         string      `json:"title"`
	UploadedBy    uuid.UUID   `json:"uploadedBy"`
	Channel       uuid.UUID   `json:"channel"`
	LowPath       string      `json:"lowPath"`
	HighPath      string      `json:"highPath"`
	ThumbnailPath string      `json:"thumbnail"`
	Likes         []uuid.UUID `json:"likes" gorm:"-"`
	Comments      []*Comment  `json:"comments" gorm:"-"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}
