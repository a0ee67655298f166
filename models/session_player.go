package models

import (
	"time"
)

// SessionPlayer is the durable result row written for each registered player
// when a session finalizes.
type SessionPlayer struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID  string    `json:"session_id" gorm:"type:uuid;not null;index"`
	StudentID  string    `json:"student_id" gorm:"type:uuid;not null"`
	Nickname   string    `json:"nickname" gorm:"not null"`
	FinalScore int       `json:"final_score" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
}
