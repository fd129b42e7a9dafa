package services

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

var (
	nonWordChars = regexp.MustCompile(`[^\w\s-]`)
	whitespace   = regexp.MustCompile(`\s+`)
	markdown     = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))
)

// buildAnkiExport renders one tab separated card per question.
func buildAnkiExport(title string, questions []models.Question) (*AnkiExport, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	cards := make([]string, 0, len(questions))
	for i, q := range questions {
		explanation, err := renderMarkdown(q.Explanation)
		if err != nil {
			return nil, fmt.Errorf("failed to render explanation of question %d: %w", i+1, err)
		}
		front := strings.ReplaceAll(q.Text, "\n", "<br>")
		back := strings.ReplaceAll(ankiAnswer(q)+"<hr>"+explanation, "\n", "<br>")
		cards = append(cards, strings.ReplaceAll(front, "\t", " ")+"\t"+strings.ReplaceAll(back, "\t", " "))
	}

	return &AnkiExport{
		FileName: ankiFileName(title),
		Content:  strings.Join(cards, "\n"),
	}, nil
}

func ankiAnswer(q models.Question) string {
	switch q.QuestionType {
	case models.QuestionTypeOrdering:
		return "<strong>Correct Order:</strong> " + strings.Join(q.CorrectAnswer.Items, " → ")
	case models.QuestionTypeMatching:
		var b strings.Builder
		b.WriteString("<strong>Correct Matches:</strong><ul>")
		for _, p := range q.CorrectAnswer.Pairs {
			b.WriteString("<li>" + p.Prompt + " → " + p.Answer + "</li>")
		}
		b.WriteString("</ul>")
		return b.String()
	default:
		return "<strong>Correct Answer:</strong> " + q.CorrectAnswer.Text
	}
}

// renderMarkdown converts an explanation to HTML without the trailing newline.
func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func ankiFileName(title string) string {
	name := strings.TrimSpace(nonWordChars.ReplaceAllString(title, ""))
	name = whitespace.ReplaceAllString(name, "_")
	if name == "" {
		name = "quiz"
	}
	return name + "_anki_export.txt"
}
