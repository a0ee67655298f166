package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore holds the live state of a session in redis. Every operation is
// a single atomic interaction with the store; invariants that depend on
// exclusivity (duplicate-answer prevention) are enforced by redis primitives,
// never by check-then-act sequences across calls.
type SessionStore struct {
	rdb *redis.Client
}

func NewSessionStore(rdb *redis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

// SessionState is the hash stored under session:{id}:state.
type SessionState struct {
	QuizID            string
	Status            string
	StartedAt         float64
	QuestionStartedAt float64
}

// OptionView is one answer option as shown to participants.
type OptionView struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// QuestionSnapshot is the denormalized, session-scoped copy of one question.
// CorrectIndexes is stripped from the student-facing view.
type QuestionSnapshot struct {
	QuestionID     string       `json:"question_id"`
	Text           string       `json:"text"`
	Options        []OptionView `json:"options"`
	CorrectIndexes []int        `json:"correct_indexes,omitempty"`
	Type           string       `json:"type"`
	Points         int          `json:"points"`
	Timer          int          `json:"timer"` // seconds
}

// StudentView returns a copy with the correct answer hidden.
func (q QuestionSnapshot) StudentView() QuestionSnapshot {
	view := q
	view.CorrectIndexes = nil
	return view
}

// AnswerRecord is one player's stored submission for a question.
type AnswerRecord struct {
	Selected []int   `json:"selected"`
	TS       float64 `json:"ts"` // unix seconds
}

func (s *SessionStore) CreateState(ctx context.Context, sessionID, quizID string) error {
	err := s.rdb.HSet(ctx, keyState(sessionID),
		"quiz_id", quizID,
		"status", "waiting",
	).Err()
	if err != nil {
		return storeErr(err)
	}
	if err := s.rdb.Set(ctx, keyCurrentQuestion(sessionID), -1, 0).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *SessionStore) GetState(ctx context.Context, sessionID string) (*SessionState, error) {
	fields, err := s.rdb.HGetAll(ctx, keyState(sessionID)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	state := &SessionState{
		QuizID: fields["quiz_id"],
		Status: fields["status"],
	}
	state.StartedAt, _ = strconv.ParseFloat(fields["started_at"], 64)
	state.QuestionStartedAt, _ = strconv.ParseFloat(fields["question_started_at"], 64)
	return state, nil
}

// SetStateField writes one state field. The state key is a hash so each
// field update is atomic on its own.
func (s *SessionStore) SetStateField(ctx context.Context, sessionID, field string, value interface{}) error {
	if err := s.rdb.HSet(ctx, keyState(sessionID), field, value).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetStateField reads one state field; missing fields come back empty.
func (s *SessionStore) GetStateField(ctx context.Context, sessionID, field string) (string, error) {
	val, err := s.rdb.HGet(ctx, keyState(sessionID), field).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", storeErr(err)
	}
	return val, nil
}

func (s *SessionStore) StoreQuestions(ctx context.Context, sessionID string, questions []QuestionSnapshot) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	if err := s.rdb.Set(ctx, keyQuestions(sessionID), data, 0).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *SessionStore) GetAllQuestions(ctx context.Context, sessionID string) ([]QuestionSnapshot, error) {
	data, err := s.rdb.Get(ctx, keyQuestions(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}

	var questions []QuestionSnapshot
	if err := json.Unmarshal([]byte(data), &questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return questions, nil
}

func (s *SessionStore) SetCurrentQuestion(ctx context.Context, sessionID string, index int) error {
	if err := s.rdb.Set(ctx, keyCurrentQuestion(sessionID), index, 0).Err(); err != nil {
		return storeErr(err)
	}
	return s.SetStateField(ctx, sessionID, "current_question", index)
}

func (s *SessionStore) GetCurrentQuestion(ctx context.Context, sessionID string) (int, error) {
	val, err := s.rdb.Get(ctx, keyCurrentQuestion(sessionID)).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, storeErr(err)
	}

	index, err := strconv.Atoi(val)
	if err != nil {
		return -1, nil
	}
	return index, nil
}

// SaveAnswer records a player's answer with set-if-absent semantics. Returns
// false when the player already answered this question; the first write wins
// and is never mutated afterwards.
func (s *SessionStore) SaveAnswer(ctx context.Context, sessionID string, questionIndex int, playerID string, selected []int, ts time.Time) (bool, error) {
	record := AnswerRecord{
		Selected: selected,
		TS:       float64(ts.UnixNano()) / float64(time.Second),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal answer: %w", err)
	}

	saved, err := s.rdb.HSetNX(ctx, keyAnswers(sessionID, questionIndex), playerID, data).Result()
	if err != nil {
		return false, storeErr(err)
	}
	return saved, nil
}

func (s *SessionStore) GetAnswersForQuestion(ctx context.Context, sessionID string, questionIndex int) (map[string]AnswerRecord, error) {
	raw, err := s.rdb.HGetAll(ctx, keyAnswers(sessionID, questionIndex)).Result()
	if err != nil {
		return nil, storeErr(err)
	}

	answers := make(map[string]AnswerRecord, len(raw))
	for playerID, data := range raw {
		var record AnswerRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		answers[playerID] = record
	}
	return answers, nil
}

func (s *SessionStore) ClearAnswersForQuestion(ctx context.Context, sessionID string, questionIndex int) error {
	if err := s.rdb.Del(ctx, keyAnswers(sessionID, questionIndex)).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// CleanupSessionKeys removes every key scoped to the session.
func (s *SessionStore) CleanupSessionKeys(ctx context.Context, sessionID string) error {
	iter := s.rdb.Scan(ctx, 0, keyPattern(sessionID), 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return storeErr(err)
	}

	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return storeErr(err)
		}
	}
	return nil
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
