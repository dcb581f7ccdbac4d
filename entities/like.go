package entities

import "github.com/google/uuid"

type Like struct {
	VideoID uuid.UUID `json:"video_id" gorm:"primaryKey"`
	UserID  uuid.UUID `json:"user_id" gorm:"primaryKey"`
}

func (Like) TableName() string {
	return "video_likes"
}
