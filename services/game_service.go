package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"livequiz/auth"
	"livequiz/models"
)

// Ephemeral session statuses. "running" only exists briefly between
// start_session and the first question going active.
const (
	StatusWaiting        = "waiting"
	StatusRunning        = "running"
	StatusQuestionActive = "question_active"
	StatusQuestionClosed = "question_closed"
	StatusFinished       = "finished"
)

const (
	defaultLeaderboardSize = 10
	timerBroadcastInterval = 30 * time.Second
)

// GameService drives the session protocol: the question lifecycle, answer
// intake, scoring and the finalize step. All shared mutable state goes
// through the SessionStore's atomic operations; timers are session-scoped
// through the TimerRegistry.
type GameService struct {
	db         *gorm.DB
	store      *SessionStore
	scoreboard *Scoreboard
	timers     *TimerRegistry
	finalizer  *Finalizer
	broadcast  Broadcaster
}

func NewGameService(db *gorm.DB, rdb *redis.Client) *GameService {
	store := NewSessionStore(rdb)
	scoreboard := NewScoreboard(store)
	return &GameService{
		db:         db,
		store:      store,
		scoreboard: scoreboard,
		timers:     NewTimerRegistry(),
		finalizer:  NewFinalizer(db, store, scoreboard),
	}
}

// SetBroadcaster attaches the fan-out fabric. Must be called before any
// connection is served.
func (s *GameService) SetBroadcaster(b Broadcaster) {
	s.broadcast = b
}

// CreateSession writes the durable session row and initializes ephemeral
// state. The durable row is not touched again until finalize.
func (s *GameService) CreateSession(ctx context.Context, teacherID, quizID string) (*models.Session, error) {
	var quiz models.Quiz
	if err := s.db.Where("id = ? AND teacher_id = ?", quizID, teacherID).First(&quiz).Error; err != nil {
		return nil, errors.New("quiz not found")
	}

	session := models.Session{
		ID:              uuid.NewString(),
		QuizID:          quizID,
		TeacherID:       teacherID,
		InviteCode:      generateInviteCode(),
		Status:          models.SessionStatusWaiting,
		CurrentQuestion: -1,
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, err
	}

	if err := s.store.CreateState(ctx, session.ID, quizID); err != nil {
		return nil, err
	}
	return &session, nil
}

// SessionByInviteCode resolves a join code to the durable session row.
func (s *GameService) SessionByInviteCode(code string) (*models.Session, error) {
	var session models.Session
	if err := s.db.Where("invite_code = ?", code).First(&session).Error; err != nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// RegisterPlayer puts a student on the session scoreboard. Rejoining keeps
// the existing registration and score.
func (s *GameService) RegisterPlayer(ctx context.Context, sessionID, playerID, nickname string) error {
	return s.scoreboard.AddPlayer(ctx, sessionID, playerID, nickname)
}

// StartSession loads the quiz roster into the ephemeral store and starts the
// first question. Teacher action; only valid while waiting.
func (s *GameService) StartSession(ctx context.Context, sessionID string) error {
	state, err := s.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.Status != StatusWaiting {
		return ErrWrongState
	}

	var questions []models.Question
	err = s.db.Where("quiz_id = ?", state.QuizID).
		Order("position").
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("options.position")
		}).
		Find(&questions).Error
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrWrongState
	}

	snapshots := make([]QuestionSnapshot, 0, len(questions))
	for _, q := range questions {
		snap := QuestionSnapshot{
			QuestionID: q.ID,
			Text:       q.Text,
			Type:       q.Type,
			Points:     q.Points,
			Timer:      q.TimeLimit,
		}
		for _, o := range q.Options {
			snap.Options = append(snap.Options, OptionView{ID: o.ID, Text: o.Text, Index: o.Position})
			if o.IsCorrect {
				snap.CorrectIndexes = append(snap.CorrectIndexes, o.Position)
			}
		}
		snapshots = append(snapshots, snap)
	}

	if err := s.store.StoreQuestions(ctx, sessionID, snapshots); err != nil {
		return err
	}
	if err := s.store.SetStateField(ctx, sessionID, "status", StatusRunning); err != nil {
		return err
	}
	if err := s.store.SetStateField(ctx, sessionID, "started_at", nowUnix()); err != nil {
		return err
	}

	return s.startQuestion(ctx, sessionID, 0)
}

// NextQuestion advances to the next question, or finishes the game when the
// roster is exhausted. Teacher action; only valid once the current question
// has closed, so the pointer can never move backwards or skip an open window.
func (s *GameService) NextQuestion(ctx context.Context, sessionID string) error {
	state, err := s.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.Status != StatusQuestionClosed {
		return ErrWrongState
	}

	current, err := s.store.GetCurrentQuestion(ctx, sessionID)
	if err != nil {
		return err
	}
	questions, err := s.store.GetAllQuestions(ctx, sessionID)
	if err != nil {
		return err
	}

	next := current + 1
	if next >= len(questions) {
		return s.finishGame(ctx, sessionID)
	}
	return s.startQuestion(ctx, sessionID, next)
}

// SubmitAnswer records a student's answer for the active question. The
// at-most-once guarantee comes from the store's set-if-absent write, never
// from a check on this side.
func (s *GameService) SubmitAnswer(ctx context.Context, sessionID, playerID string, questionIndex int, selected []int) error {
	state, err := s.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.Status != StatusQuestionActive {
		return ErrQuestionClosed
	}

	current, err := s.store.GetCurrentQuestion(ctx, sessionID)
	if err != nil {
		return err
	}
	if questionIndex != current {
		return ErrQuestionClosed
	}

	saved, err := s.store.SaveAnswer(ctx, sessionID, questionIndex, playerID, selected, time.Now())
	if err != nil {
		return err
	}
	if !saved {
		return ErrAlreadyAnswered
	}

	s.broadcast.ToRole(sessionID, auth.RoleTeacher, "student_answered", gin.H{
		"player_id":      playerID,
		"question_index": questionIndex,
	})
	return nil
}

// Leaderboard returns the ranked view for any participant.
func (s *GameService) Leaderboard(ctx context.Context, sessionID string, topN int) ([]LeaderboardEntry, error) {
	return s.scoreboard.GetLeaderboard(ctx, sessionID, topN)
}

// InitialState builds the snapshot sent to a freshly joined connection.
func (s *GameService) InitialState(ctx context.Context, sessionID string) (gin.H, error) {
	state, err := s.store.GetState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetCurrentQuestion(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.GetAllQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	leaderboard, err := s.scoreboard.GetLeaderboard(ctx, sessionID, defaultLeaderboardSize)
	if err != nil {
		return nil, err
	}

	return gin.H{
		"status":                 state.Status,
		"current_question_index": current,
		"questions_count":        len(questions),
		"leaderboard":            leaderboard,
	}, nil
}

// ActiveQuestion returns the currently open question, if any.
func (s *GameService) ActiveQuestion(ctx context.Context, sessionID string) (int, QuestionSnapshot, bool, error) {
	state, err := s.store.GetState(ctx, sessionID)
	if err != nil {
		return 0, QuestionSnapshot{}, false, err
	}
	if state.Status != StatusQuestionActive {
		return 0, QuestionSnapshot{}, false, nil
	}

	current, err := s.store.GetCurrentQuestion(ctx, sessionID)
	if err != nil {
		return 0, QuestionSnapshot{}, false, err
	}
	questions, err := s.store.GetAllQuestions(ctx, sessionID)
	if err != nil {
		return 0, QuestionSnapshot{}, false, err
	}
	if current < 0 || current >= len(questions) {
		return 0, QuestionSnapshot{}, false, nil
	}
	return current, questions[current], true, nil
}

func (s *GameService) startQuestion(ctx context.Context, sessionID string, questionIndex int) error {
	questions, err := s.store.GetAllQuestions(ctx, sessionID)
	if err != nil {
		return err
	}
	if questionIndex < 0 || questionIndex >= len(questions) {
		return ErrWrongState
	}
	question := questions[questionIndex]

	if err := s.store.SetCurrentQuestion(ctx, sessionID, questionIndex); err != nil {
		return err
	}
	if err := s.store.ClearAnswersForQuestion(ctx, sessionID, questionIndex); err != nil {
		return err
	}
	if err := s.store.SetStateField(ctx, sessionID, "status", StatusQuestionActive); err != nil {
		return err
	}
	startedAt := nowUnix()
	if err := s.store.SetStateField(ctx, sessionID, "question_started_at", startedAt); err != nil {
		return err
	}
	// Per-question start times survive pointer advances; the finalizer needs
	// them to recompute response times for every question.
	if err := s.store.SetStateField(ctx, sessionID, questionStartField(questionIndex), startedAt); err != nil {
		return err
	}

	s.broadcast.ToRole(sessionID, auth.RoleTeacher, "question_started", gin.H{
		"question_index": questionIndex,
		"question":       question,
	})
	s.broadcast.ToRole(sessionID, auth.RoleStudent, "question_started", gin.H{
		"question_index": questionIndex,
		"question":       question.StudentView(),
	})

	timerCtx := s.timers.Replace(sessionID, questionIndex)
	go s.runQuestionTimer(timerCtx, sessionID, questionIndex, time.Duration(question.Timer)*time.Second)

	return nil
}

// runQuestionTimer broadcasts the remaining time every 30s (or the remainder
// if shorter) and finalizes the question at the deadline. Cancellation via
// the registry aborts without finalizing.
func (s *GameService) runQuestionTimer(ctx context.Context, sessionID string, questionIndex int, duration time.Duration) {
	deadline := time.Now().Add(duration)

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		s.broadcast.ToSession(sessionID, "time_left", gin.H{
			"time_left":      int(remaining.Seconds()),
			"question_index": questionIndex,
		})

		if remaining <= 0 {
			break
		}

		wait := remaining
		if wait > timerBroadcastInterval {
			wait = timerBroadcastInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := s.finalizeQuestion(context.Background(), sessionID, questionIndex); err != nil {
		log.Printf("error finalizing question %d in session %s: %v", questionIndex, sessionID, err)
	}
}

// finalizeQuestion closes the answer window, scores every recorded answer
// and broadcasts results: full per-player detail to the teacher, a
// correctness summary to students, the updated leaderboard to everyone.
func (s *GameService) finalizeQuestion(ctx context.Context, sessionID string, questionIndex int) error {
	questions, err := s.store.GetAllQuestions(ctx, sessionID)
	if err != nil {
		return err
	}
	if questionIndex < 0 || questionIndex >= len(questions) {
		return ErrWrongState
	}
	question := questions[questionIndex]

	// Close the window before reading the answer set, so a submission racing
	// the deadline either lands in the set being scored or is rejected.
	if err := s.store.SetStateField(ctx, sessionID, "status", StatusQuestionClosed); err != nil {
		return err
	}

	answers, err := s.store.GetAnswersForQuestion(ctx, sessionID, questionIndex)
	if err != nil {
		return err
	}
	state, err := s.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}

	results := make([]gin.H, 0, len(answers))
	for playerID, record := range answers {
		responseTime := record.TS - state.QuestionStartedAt
		if responseTime < 0 {
			responseTime = 0
		}

		correct := isCorrect(question, record.Selected)
		delta := ComputePoints(question.Points, float64(question.Timer), responseTime, correct)
		if delta > 0 {
			if err := s.scoreboard.AddScore(ctx, sessionID, playerID, delta); err != nil {
				return err
			}
		}

		results = append(results, gin.H{
			"player_id":     playerID,
			"selected":      record.Selected,
			"correct":       correct,
			"delta":         delta,
			"response_time": responseTime,
		})
	}

	s.broadcast.ToRole(sessionID, auth.RoleTeacher, "question_results", gin.H{
		"payload": gin.H{
			"question_index": questionIndex,
			"results":        results,
		},
	})

	summary := gin.H{"question_index": questionIndex, "correct_indexes": question.CorrectIndexes}
	if len(question.CorrectIndexes) > 0 {
		summary["correct_index"] = question.CorrectIndexes[0]
	}
	s.broadcast.ToRole(sessionID, auth.RoleStudent, "question_results_summary", summary)

	leaderboard, err := s.scoreboard.GetLeaderboard(ctx, sessionID, defaultLeaderboardSize)
	if err != nil {
		return err
	}
	s.broadcast.ToSession(sessionID, "scoreboard_update", gin.H{"leaderboard": leaderboard})

	return nil
}

// finishGame closes the session, persists results and purges ephemeral keys.
// If persistence fails the keys are retained so the finalize can be retried.
func (s *GameService) finishGame(ctx context.Context, sessionID string) error {
	s.timers.Cancel(sessionID)

	if err := s.store.SetStateField(ctx, sessionID, "status", StatusFinished); err != nil {
		return err
	}

	leaderboard, err := s.scoreboard.GetLeaderboard(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	s.broadcast.ToSession(sessionID, "game_finished", gin.H{"leaderboard": leaderboard})

	if err := s.finalizer.Finalize(ctx, sessionID); err != nil {
		log.Printf("ERROR: persisting session %s failed, ephemeral state retained for retry: %v", sessionID, err)
		return err
	}

	return s.store.CleanupSessionKeys(ctx, sessionID)
}

func generateInviteCode() string {
	bytes := make([]byte, 3)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(bytes)[:6]
}

func nowUnix() string {
	return strconv.FormatFloat(float64(time.Now().UnixNano())/float64(time.Second), 'f', -1, 64)
}

func questionStartField(questionIndex int) string {
	return fmt.Sprintf("question_%d_started_at", questionIndex)
}
