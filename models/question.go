package models

import (
	"time"
)

// Question types.
const (
	QuestionTypeSingle   = "single"
	QuestionTypeMultiple = "multiple"
)

type Question struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	QuizID    string    `json:"quiz_id" gorm:"type:uuid;not null;index"`
	Text      string    `json:"text" gorm:"not null"`
	Type      string    `json:"type" gorm:"not null;default:'single'"` // single, multiple
	Points    int       `json:"points" gorm:"not null;default:1"`
	TimeLimit int       `json:"time_limit" gorm:"not null;default:30"` // seconds
	Position  int       `json:"index" gorm:"column:position;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Options []Option `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}
