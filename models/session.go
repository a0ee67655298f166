package models

import (
	"time"
)

// Session lifecycle statuses. While a session is live, redis is authoritative;
// the durable row only changes at creation and at finalize.
const (
	SessionStatusWaiting  = "waiting"
	SessionStatusRunning  = "running"
	SessionStatusFinished = "finished"
)

type Session struct {
	ID              string     `json:"id" gorm:"type:uuid;primaryKey"`
	QuizID          string     `json:"quiz_id" gorm:"type:uuid;not null;index"`
	TeacherID       string     `json:"teacher_id" gorm:"type:uuid;not null"`
	InviteCode      string     `json:"invite_code" gorm:"uniqueIndex;not null"`
	Status          string     `json:"status" gorm:"not null;default:'waiting'"`
	CurrentQuestion int        `json:"current_question" gorm:"not null;default:-1"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Relationships
	Quiz    Quiz            `json:"quiz,omitempty"`
	Players []SessionPlayer `json:"players,omitempty" gorm:"foreignKey:SessionID"`
	Answers []Answer        `json:"answers,omitempty" gorm:"foreignKey:SessionID"`
}
