package services

import "fmt"

// Redis key schema for a session's ephemeral state. Every key is scoped
// under session:{id}: so cleanup can remove the whole session in one sweep.
func keyState(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID) // HASH field -> value
}

func keyCurrentQuestion(sessionID string) string {
	return fmt.Sprintf("session:%s:current_question", sessionID) // STRING int
}

func keyQuestions(sessionID string) string {
	return fmt.Sprintf("session:%s:questions", sessionID) // STRING json list
}

func keyAnswers(sessionID string, questionIndex int) string {
	return fmt.Sprintf("session:%s:answers:%d", sessionID, questionIndex) // HASH player -> json
}

func keyPlayers(sessionID string) string {
	return fmt.Sprintf("session:%s:players", sessionID) // HASH player -> json
}

func keyScores(sessionID string) string {
	return fmt.Sprintf("session:%s:scores", sessionID) // HASH player -> int
}

func keyPlayerSeq(sessionID string) string {
	return fmt.Sprintf("session:%s:player_seq", sessionID) // STRING counter
}

func keyPattern(sessionID string) string {
	return fmt.Sprintf("session:%s:*", sessionID)
}
