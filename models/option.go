package models

import (
	"time"
)

type Option struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	QuestionID string    `json:"question_id" gorm:"type:uuid;not null;index"`
	Text       string    `json:"text" gorm:"not null"`
	IsCorrect  bool      `json:"is_correct" gorm:"not null;default:false"`
	Position   int       `json:"index" gorm:"column:position;not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
