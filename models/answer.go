package models

import (
	"time"
)

// Answer is the durable record of one submission, written at finalize with
// correctness recomputed against the authoritative option set.
type Answer struct {
	ID              string    `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID       string    `json:"session_id" gorm:"type:uuid;not null;index"`
	StudentID       string    `json:"student_id" gorm:"type:uuid;not null"`
	QuestionID      string    `json:"question_id" gorm:"type:uuid;not null"`
	SelectedOptions []int     `json:"selected_options" gorm:"serializer:json"`
	IsCorrect       bool      `json:"is_correct" gorm:"not null;default:false"`
	ResponseTime    float64   `json:"response_time"` // seconds since question start
	SubmittedAt     time.Time `json:"submitted_at"`
}
