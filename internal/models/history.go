package models

import (
	"fmt"
	"time"
)

const HistoryModeLearning = "Learning"

// HistoryEntry records one finished quiz run. The log is append-only and
// kept newest first.
type HistoryEntry struct {
	Title      string     `json:"title"`
	Score      int        `json:"score"`
	Total      int        `json:"total"`
	Percentage string     `json:"percentage"`
	Date       time.Time  `json:"date"`
	Mode       string     `json:"mode"`
	QuizData   []Question `json:"quizData"`
	TimeTaken  string     `json:"timeTaken"`
}

// FormatPercentage renders score/total with one decimal, "0.0" for an empty quiz.
func FormatPercentage(score, total int) string {
	if total <= 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(score)/float64(total)*100)
}

// FormatTimeTaken renders a duration as MM:SS; minutes keep growing past 59.
func FormatTimeTaken(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
