package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"livequiz/models"
)

// Finalizer reconciles the ephemeral and durable stores at game end: final
// scores and every recorded submission go into one transaction. Either the
// whole batch commits or none of it does; callers keep the ephemeral keys
// when it fails so a retry stays possible.
type Finalizer struct {
	db         *gorm.DB
	store      *SessionStore
	scoreboard *Scoreboard
}

func NewFinalizer(db *gorm.DB, store *SessionStore, scoreboard *Scoreboard) *Finalizer {
	return &Finalizer{db: db, store: store, scoreboard: scoreboard}
}

func (f *Finalizer) Finalize(ctx context.Context, sessionID string) error {
	leaderboard, err := f.scoreboard.GetLeaderboard(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("read final leaderboard: %w", err)
	}

	questions, err := f.store.GetAllQuestions(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("read questions: %w", err)
	}

	type scoredAnswer struct {
		questionID   string
		playerID     string
		selected     []int
		correct      bool
		responseTime float64
		submittedAt  time.Time
	}

	var answers []scoredAnswer
	for questionIndex, question := range questions {
		recorded, err := f.store.GetAnswersForQuestion(ctx, sessionID, questionIndex)
		if err != nil {
			return fmt.Errorf("read answers for question %d: %w", questionIndex, err)
		}

		startedAt := 0.0
		if raw, err := f.store.GetStateField(ctx, sessionID, questionStartField(questionIndex)); err == nil && raw != "" {
			startedAt, _ = strconv.ParseFloat(raw, 64)
		}

		for playerID, record := range recorded {
			responseTime := record.TS - startedAt
			if startedAt == 0 || responseTime < 0 {
				responseTime = 0
			}
			answers = append(answers, scoredAnswer{
				questionID:   question.QuestionID,
				playerID:     playerID,
				selected:     record.Selected,
				correct:      isCorrect(question, record.Selected),
				responseTime: responseTime,
				submittedAt:  time.Unix(0, int64(record.TS*float64(time.Second))),
			})
		}
	}

	endedAt := time.Now()

	return f.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"status":           models.SessionStatusFinished,
				"current_question": len(questions) - 1,
				"ended_at":         endedAt,
			}).Error
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		for _, row := range leaderboard {
			player := models.SessionPlayer{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				StudentID:  row.PlayerID,
				Nickname:   row.Nickname,
				FinalScore: row.Score,
			}
			if err := tx.Create(&player).Error; err != nil {
				return fmt.Errorf("create session player: %w", err)
			}
		}

		for _, a := range answers {
			answer := models.Answer{
				ID:              uuid.NewString(),
				SessionID:       sessionID,
				StudentID:       a.playerID,
				QuestionID:      a.questionID,
				SelectedOptions: a.selected,
				IsCorrect:       a.correct,
				ResponseTime:    a.responseTime,
				SubmittedAt:     a.submittedAt,
			}
			if err := tx.Create(&answer).Error; err != nil {
				return fmt.Errorf("create answer: %w", err)
			}
		}

		return nil
	})
}
