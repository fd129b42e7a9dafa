package services

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// generationContext is what a variation replays.
type generationContext struct {
	request models.GenerateRequest
}

// generatedQuiz is the payload returned by the generation service.
type generatedQuiz struct {
	QuizTitle string            `json:"quizTitle"`
	QuizData  []models.Question `json:"quizData"`
	Summary   *string           `json:"summary,omitempty"`
}

const variationInstruction = "IMPORTANT: This is a request for a new, different quiz based on the same source material. DO NOT repeat questions."

const learningModeInstruction = `# LEARNING MODE PROTOCOL
Since the user's Learning Goal is 'Learning', you MUST FIRST generate a 'summary' of the content.
- Audience: write the summary as if explaining it to a curious 14-year-old.
- Language: the summary must be simple and clear, in %s.
- Example: include a simple, practical, real-life example.
- Placement: put it in the 'summary' field of the JSON object.
AFTER generating the summary, generate the quiz. Questions in this mode should be direct and reinforce the summary.`

// buildQuizPrompt renders the generation prompt followed by the optional image part.
func buildQuizPrompt(req models.GenerateRequest, isVariation bool) []models.Part {
	types := make([]string, len(req.QuestionTypes))
	for i, t := range req.QuestionTypes {
		types[i] = string(t)
	}
	subject := req.Subject
	if subject == "" {
		subject = "the provided content"
	}

	var b strings.Builder
	b.WriteString("# Persona & Mission\n")
	b.WriteString("You are a world-class personal tutor. Turn testing into a learning journey for the user.\n\n")

	if req.LearningGoal == models.GoalLearning {
		fmt.Fprintf(&b, learningModeInstruction+"\n\n", req.ExplanationLanguage)
	}

	b.WriteString("# Quiz Generation Instructions\n")
	b.WriteString("Based on the user's request and any provided document or image, create an educational quiz.\n")
	fmt.Fprintf(&b, "- User's State: Knowledge Level: '%s', Learning Goal: '%s'.\n", req.KnowledgeLevel, req.LearningGoal)
	fmt.Fprintf(&b, "- Quiz Structure: Generate exactly %d questions with a difficulty level of '%s'.\n", req.NumQuestions, req.Difficulty)
	fmt.Fprintf(&b, "- Quiz Language: %s. The title, questions, options and correct answers MUST be in this language.\n", req.QuizLanguage)
	fmt.Fprintf(&b, "- Subject: The quiz should be about '%s'.\n", subject)
	fmt.Fprintf(&b, "- Question Variety: You MUST ONLY generate questions of these types: [%s]. Use 'caseDescription' for scenario questions.\n", strings.Join(types, ", "))
	b.WriteString("- Matching questions must not repeat a prompt.\n\n")

	fmt.Fprintf(&b, "# Explanation Protocol (Language: %s)\n", req.ExplanationLanguage)
	fmt.Fprintf(&b, "For EVERY question, the 'explanation' field MUST be in %s and include:\n", req.ExplanationLanguage)
	b.WriteString("1. Why the correct answer is right and the others are wrong.\n")
	b.WriteString("2. A practical, real-life example.\n")
	b.WriteString("3. A single memorable key takeaway sentence.\n\n")

	b.WriteString("# User's Input\n")
	if isVariation {
		b.WriteString("\n" + variationInstruction + "\n")
	}
	if req.Prompt != "" {
		fmt.Fprintf(&b, "\nUser's specific instructions: %q\n", req.Prompt)
	}
	if req.Document != "" {
		b.WriteString("\nGenerate the quiz from this document:\n---BEGIN DOCUMENT---\n")
		b.WriteString(req.Document)
		b.WriteString("\n---END DOCUMENT---\n")
	}
	if req.Image != nil {
		b.WriteString("\nOne or more questions should be based on the provided image. Set 'refersToUploadedImage' to true for them.\n")
	}
	b.WriteString("\n# Output Format\nThe output MUST be a JSON object that strictly adheres to the provided schema.")

	parts := []models.Part{models.TextPart(b.String())}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, models.InlinePart(req.Image.MimeType, base64.StdEncoding.EncodeToString(req.Image.Data)))
	}
	return parts
}

// buildQuizSchema returns the JSON schema the quiz payload must follow. The
// summary becomes required in learning mode.
func buildQuizSchema(req models.GenerateRequest) (json.RawMessage, error) {
	types := make([]string, len(req.QuestionTypes))
	for i, t := range req.QuestionTypes {
		types[i] = string(t)
	}
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	question := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questionType": map[string]any{"type": "string", "enum": types},
			"question":     map[string]any{"type": "string", "description": "The question text, in " + req.QuizLanguage + "."},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "MCQ: 3-5 options. TrueFalse: ['True','False']. Ordering: items to order. Matching: prompts. Empty for ShortAnswer.",
			},
			"matchOptions": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Matching only: the answers to match against options.",
			},
			"correctAnswer": map[string]any{
				"description": "A string for MCQ/TrueFalse/ShortAnswer, an ordered array of strings for Ordering, an array of {prompt, answer} objects for Matching.",
				"oneOf": []any{
					map[string]any{"type": "string"},
					stringArray,
					map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"prompt": map[string]any{"type": "string"},
								"answer": map[string]any{"type": "string"},
							},
							"required": []string{"prompt", "answer"},
						},
					},
				},
			},
			"explanation":           map[string]any{"type": "string", "description": "Explanation in " + req.ExplanationLanguage + "."},
			"caseDescription":       map[string]any{"type": "string"},
			"refersToUploadedImage": map[string]any{"type": "boolean"},
		},
		"required": []string{"questionType", "question", "options", "correctAnswer", "explanation"},
	}

	properties := map[string]any{
		"quizTitle": map[string]any{"type": "string", "description": "A relevant title for the quiz in " + req.QuizLanguage + "."},
		"quizData": map[string]any{
			"type":        "array",
			"description": fmt.Sprintf("An array of %d quiz question objects.", req.NumQuestions),
			"items":       question,
		},
	}
	required := []string{"quizTitle", "quizData"}
	if req.LearningGoal == models.GoalLearning {
		properties["summary"] = map[string]any{"type": "string", "description": "A simple summary of the content with a real-life example."}
		required = append([]string{"summary"}, required...)
	}

	schema, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode quiz schema: %w", err)
	}
	return schema, nil
}

// decodeGeneratedQuiz parses and normalizes the payload. It never touches
// session state.
func decodeGeneratedQuiz(raw json.RawMessage, req models.GenerateRequest) (*generatedQuiz, error) {
	var quiz generatedQuiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return nil, &MalformedGenerationError{Index: -1, Reason: "payload is not a quiz document", Err: err}
	}
	quiz.QuizTitle = strings.TrimSpace(quiz.QuizTitle)
	if quiz.QuizTitle == "" {
		quiz.QuizTitle = "Untitled Quiz"
	}
	for i := range quiz.QuizData {
		normalizeQuestion(&quiz.QuizData[i])
	}
	if quiz.Summary != nil && strings.TrimSpace(*quiz.Summary) == "" {
		quiz.Summary = nil
	}
	if req.LearningGoal == models.GoalLearning && quiz.Summary == nil {
		return nil, &MalformedGenerationError{Index: -1, Reason: "summary is required in learning mode"}
	}
	return &quiz, nil
}

// normalizeQuestion repairs harmless deviations: blank TrueFalse options and
// padding around text.
func normalizeQuestion(q *models.Question) {
	q.Text = strings.TrimSpace(q.Text)
	if q.QuestionType == models.QuestionTypeTrueFalse {
		if len(q.Options) == 0 {
			q.Options = []string{"True", "False"}
		}
		if q.CorrectAnswer.Kind == models.ValueKindText {
			switch strings.ToLower(strings.TrimSpace(q.CorrectAnswer.Text)) {
			case "true":
				q.CorrectAnswer = models.TextValue("True")
			case "false":
				q.CorrectAnswer = models.TextValue("False")
			}
		}
	}
	if q.QuestionType == models.QuestionTypeShortAnswer && q.Options == nil {
		q.Options = []string{}
	}
}

const learnMorePrompt = `You are a helpful research assistant. The user wants to learn more about a topic from a quiz question they encountered.
Topic: %q
Find beginner-friendly resources to help them understand this topic better. Provide in JSON:
1. A very simple, easy-to-understand summary of the core concept.
2. 2-3 links to helpful YouTube videos that explain the concept visually, with title and full URL.
3. 1-2 links to a relevant article for further reading, with title and full URL.
The output must be a single JSON object. Do not include any text outside the JSON.`

func learnMoreSchema() json.RawMessage {
	link := `{"type":"array","items":{"type":"object","properties":{"title":{"type":"string"},"url":{"type":"string"}},"required":["title","url"]}}`
	return json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"},"youtubeLinks":` + link +
		`,"articleLinks":` + link + `},"required":["summary","youtubeLinks","articleLinks"]}`)
}
