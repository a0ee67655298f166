package services

import "math"

// ComputePoints scores one answer. Correct answers earn the base points plus
// a speed bonus that shrinks linearly to zero at the time limit; slow but
// correct answers never drop below the base value. The speed fraction is
// clamped so clock skew or late delivery cannot produce a negative bonus.
func ComputePoints(basePoints int, timeLimit, responseTime float64, correct bool) int {
	return computePoints(basePoints, timeLimit, responseTime, correct, 0.5, 0)
}

func computePoints(basePoints int, timeLimit, responseTime float64, correct bool, bonusFactor float64, minBonus int) int {
	if !correct {
		return 0
	}

	speedFraction := 0.0
	if timeLimit > 0 {
		speedFraction = math.Max(0, (timeLimit-responseTime)/timeLimit)
	}
	speedBonus := int(math.Floor(float64(basePoints) * speedFraction * bonusFactor))

	if speedBonus < minBonus {
		speedBonus = minBonus
	}
	return basePoints + speedBonus
}

// isCorrect decides whether a selection answers the question correctly.
// Single-choice requires exactly one selected index matching the correct
// one. Multiple-choice requires exact set equality with the correct option
// set; partial overlap does not count.
func isCorrect(q QuestionSnapshot, selected []int) bool {
	if len(selected) == 0 || len(q.CorrectIndexes) == 0 {
		return false
	}

	if q.Type == "single" {
		return len(selected) == 1 && selected[0] == q.CorrectIndexes[0]
	}

	if len(selected) != len(q.CorrectIndexes) {
		return false
	}
	want := make(map[int]bool, len(q.CorrectIndexes))
	for _, idx := range q.CorrectIndexes {
		want[idx] = true
	}
	seen := make(map[int]bool, len(selected))
	for _, idx := range selected {
		if !want[idx] || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return len(seen) == len(want)
}
