package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"livequiz/auth"
	"livequiz/models"
)

type broadcastEvent struct {
	SessionID string
	Role      string // empty = everyone
	Event     string
	Payload   gin.H
}

// recordingBroadcaster stands in for the hub so service tests can assert on
// the outbound event stream.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *recordingBroadcaster) ToSession(sessionID, event string, payload gin.H) {
	b.record(broadcastEvent{SessionID: sessionID, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) ToRole(sessionID, role, event string, payload gin.H) {
	b.record(broadcastEvent{SessionID: sessionID, Role: role, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) record(e broadcastEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBroadcaster) named(event string) []broadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []broadcastEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func makeGameService(t *testing.T) (*GameService, *recordingBroadcaster, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "livequiz.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Quiz{},
		&models.Question{},
		&models.Option{},
		&models.Session{},
		&models.SessionPlayer{},
		&models.Answer{},
	))

	rs := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: rs.Addr()})
	require.NoError(t, rc.Ping(context.Background()).Err())

	svc := NewGameService(db, rc)
	broadcast := &recordingBroadcaster{}
	svc.SetBroadcaster(broadcast)

	return svc, broadcast, db
}

// seedQuiz creates a quiz whose questions each have three options with the
// correct one at index 1.
func seedQuiz(t *testing.T, db *gorm.DB, teacherID string, questionCount int) *models.Quiz {
	t.Helper()

	quiz := &models.Quiz{ID: uuid.NewString(), Title: "Geography", TeacherID: teacherID}
	require.NoError(t, db.Create(quiz).Error)

	for i := 0; i < questionCount; i++ {
		question := models.Question{
			ID:        uuid.NewString(),
			QuizID:    quiz.ID,
			Text:      fmt.Sprintf("Question %d", i+1),
			Type:      models.QuestionTypeSingle,
			Points:    1000,
			TimeLimit: 30,
			Position:  i,
		}
		require.NoError(t, db.Create(&question).Error)

		for j := 0; j < 3; j++ {
			option := models.Option{
				ID:         uuid.NewString(),
				QuestionID: question.ID,
				Text:       fmt.Sprintf("Option %d", j),
				IsCorrect:  j == 1,
				Position:   j,
			}
			require.NoError(t, db.Create(&option).Error)
		}
	}
	return quiz
}

func TestGameService_CreateSession(t *testing.T) {
	svc, _, _ := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 1)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.Len(t, session.InviteCode, 6)
	_, err = hex.DecodeString(session.InviteCode)
	require.NoError(t, err, "invite codes are hex from a real random fill")
	require.Equal(t, models.SessionStatusWaiting, session.Status)
	require.Equal(t, -1, session.CurrentQuestion)

	state, err := svc.store.GetState(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, state.Status)

	found, err := svc.SessionByInviteCode(session.InviteCode)
	require.NoError(t, err)
	require.Equal(t, session.ID, found.ID)

	_, err = svc.CreateSession(ctx, uuid.NewString(), quiz.ID)
	require.Error(t, err, "only the owning teacher can create a session")
}

func TestGameService_StartSessionLoadsRoster(t *testing.T) {
	svc, broadcast, _ := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 2)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)

	require.NoError(t, svc.StartSession(ctx, session.ID))

	questions, err := svc.store.GetAllQuestions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	require.Equal(t, []int{1}, questions[0].CorrectIndexes)

	current, err := svc.store.GetCurrentQuestion(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, current)

	state, err := svc.store.GetState(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQuestionActive, state.Status)

	// Second start must be rejected.
	require.ErrorIs(t, svc.StartSession(ctx, session.ID), ErrWrongState)

	started := broadcast.named("question_started")
	require.Len(t, started, 2, "one payload per role")
	for _, e := range started {
		question := e.Payload["question"].(QuestionSnapshot)
		switch e.Role {
		case auth.RoleTeacher:
			require.NotEmpty(t, question.CorrectIndexes)
		case auth.RoleStudent:
			require.Empty(t, question.CorrectIndexes, "student payload must hide the answer")
		default:
			t.Fatalf("question_started must be role-filtered, got role %q", e.Role)
		}
	}
}

func TestGameService_SubmitAnswerWindow(t *testing.T) {
	svc, _, _ := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 1)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPlayer(ctx, session.ID, "student-1", "Sam"))

	// No question open yet.
	err = svc.SubmitAnswer(ctx, session.ID, "student-1", 0, []int{1})
	require.ErrorIs(t, err, ErrQuestionClosed)

	require.NoError(t, svc.StartSession(ctx, session.ID))

	// Wrong index is treated as a closed window.
	err = svc.SubmitAnswer(ctx, session.ID, "student-1", 5, []int{1})
	require.ErrorIs(t, err, ErrQuestionClosed)

	require.NoError(t, svc.SubmitAnswer(ctx, session.ID, "student-1", 0, []int{1}))

	// Duplicate submission fails loudly and leaves one record.
	err = svc.SubmitAnswer(ctx, session.ID, "student-1", 0, []int{0})
	require.ErrorIs(t, err, ErrAlreadyAnswered)

	answers, err := svc.store.GetAnswersForQuestion(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, answers, 1)

	// After finalize the window is closed for latecomers.
	require.NoError(t, svc.finalizeQuestion(ctx, session.ID, 0))
	err = svc.SubmitAnswer(ctx, session.ID, "student-2", 0, []int{1})
	require.ErrorIs(t, err, ErrQuestionClosed)
}

func TestGameService_FinalizeClosesWindowBeforeScoring(t *testing.T) {
	svc, broadcast, _ := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 1)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPlayer(ctx, session.ID, "student-1", "Sam"))
	require.NoError(t, svc.RegisterPlayer(ctx, session.ID, "student-2", "Alex"))
	require.NoError(t, svc.StartSession(ctx, session.ID))

	require.NoError(t, svc.SubmitAnswer(ctx, session.ID, "student-1", 0, []int{1}))
	require.NoError(t, svc.SubmitAnswer(ctx, session.ID, "student-2", 0, []int{0}))

	require.NoError(t, svc.finalizeQuestion(ctx, session.ID, 0))

	state, err := svc.store.GetState(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQuestionClosed, state.Status)

	// The scored result set covers every stored answer: nothing can slip in
	// between the window closing and the read, so the finalizer will never
	// persist a submission that was not scored.
	results := broadcast.named("question_results")
	require.Len(t, results, 1)
	scored := results[0].Payload["payload"].(gin.H)["results"].([]gin.H)

	answers, err := svc.store.GetAnswersForQuestion(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, scored, len(answers))
	for _, row := range scored {
		_, stored := answers[row["player_id"].(string)]
		require.True(t, stored)
	}
}

func TestGameService_MonotonicProgression(t *testing.T) {
	svc, _, _ := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 3)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.NoError(t, svc.StartSession(ctx, session.ID))

	// Advancing while a question is open is rejected.
	require.ErrorIs(t, svc.NextQuestion(ctx, session.ID), ErrWrongState)

	last := -1
	for i := 0; i < 3; i++ {
		current, err := svc.store.GetCurrentQuestion(ctx, session.ID)
		require.NoError(t, err)
		require.Greater(t, current, last, "pointer only moves forward")
		last = current

		require.NoError(t, svc.finalizeQuestion(ctx, session.ID, current))
		require.NoError(t, svc.NextQuestion(ctx, session.ID))
	}

	// Roster exhausted: the session is finished and cleaned up.
	_, err = svc.store.GetState(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGameService_TimerCancelAndReplace(t *testing.T) {
	svc, _, _ := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 2)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.NoError(t, svc.StartSession(ctx, session.ID))

	index, ok := svc.timers.Active(session.ID)
	require.True(t, ok)
	require.Equal(t, 0, index)

	// Starting question 2 while question 1's timer is pending leaves exactly
	// one timer, scoped to question 2.
	require.NoError(t, svc.startQuestion(ctx, session.ID, 1))

	index, ok = svc.timers.Active(session.ID)
	require.True(t, ok)
	require.Equal(t, 1, index)
	require.Equal(t, 1, svc.timers.Len())
}

func TestGameService_EndToEnd(t *testing.T) {
	svc, broadcast, db := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 2)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPlayer(ctx, session.ID, "student-1", "Sam"))

	require.NoError(t, svc.StartSession(ctx, session.ID))

	// Q1: correct answer well before expiry.
	require.NoError(t, svc.SubmitAnswer(ctx, session.ID, "student-1", 0, []int{1}))
	require.NoError(t, svc.finalizeQuestion(ctx, session.ID, 0))

	leaderboard, err := svc.Leaderboard(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, leaderboard, 1)
	score := leaderboard[0].Score
	require.Greater(t, score, 1000, "fast correct answer earns a speed bonus on top of base points")
	require.LessOrEqual(t, score, 1500)

	// Q2 expires with no answers.
	require.NoError(t, svc.NextQuestion(ctx, session.ID))
	require.NoError(t, svc.finalizeQuestion(ctx, session.ID, 1))

	leaderboard, err = svc.Leaderboard(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Equal(t, score, leaderboard[0].Score, "empty question leaves the score unchanged")

	// Roster exhausted: finish and persist.
	require.NoError(t, svc.NextQuestion(ctx, session.ID))

	require.Len(t, broadcast.named("game_finished"), 1)

	var persisted models.Session
	require.NoError(t, db.First(&persisted, "id = ?", session.ID).Error)
	require.Equal(t, models.SessionStatusFinished, persisted.Status)
	require.NotNil(t, persisted.EndedAt)

	var players []models.SessionPlayer
	require.NoError(t, db.Where("session_id = ?", session.ID).Find(&players).Error)
	require.Len(t, players, 1)
	require.Equal(t, "student-1", players[0].StudentID)
	require.Equal(t, score, players[0].FinalScore, "durable score matches the final ephemeral leaderboard")

	var answers []models.Answer
	require.NoError(t, db.Where("session_id = ?", session.ID).Find(&answers).Error)
	require.Len(t, answers, 1, "one durable answer per submission")
	require.True(t, answers[0].IsCorrect)
	require.Equal(t, []int{1}, answers[0].SelectedOptions)

	// Ephemeral keys are purged after a successful commit.
	_, err = svc.store.GetState(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGameService_FinalizeFailureKeepsEphemeralState(t *testing.T) {
	svc, _, db := makeGameService(t)
	ctx := context.Background()
	teacherID := uuid.NewString()
	quiz := seedQuiz(t, svc.db, teacherID, 1)

	session, err := svc.CreateSession(ctx, teacherID, quiz.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPlayer(ctx, session.ID, "student-1", "Sam"))
	require.NoError(t, svc.StartSession(ctx, session.ID))
	require.NoError(t, svc.finalizeQuestion(ctx, session.ID, 0))

	// Break the durable side so the transaction cannot commit.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	require.Error(t, svc.NextQuestion(ctx, session.ID))

	// Ephemeral state survives for a retry.
	state, err := svc.store.GetState(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, state.Status)
}

func TestActionPermissions(t *testing.T) {
	require.Equal(t, auth.RoleTeacher, actionPermissions["start_session"])
	require.Equal(t, auth.RoleTeacher, actionPermissions["next_question"])
	require.Equal(t, auth.RoleStudent, actionPermissions["submit_answer"])
	role, ok := actionPermissions["get_leaderboard"]
	require.True(t, ok)
	require.Empty(t, role, "any authenticated participant may read the leaderboard")
}
