package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
)

const (
	sheetHistory     = "History"
	sheetRecallDeck  = "Recall Deck"
	sheetCurrentQuiz = "Current Quiz"

	listSeparator = " | "
	pairSeparator = " => "

	backupVersion = 1
)

var questionHeaders = []string{
	"Question Type", "Question", "Options", "Match Options", "Correct Answer", "Explanation", "Case Description",
}

// Backup is the JSON document produced by ExportBackup.
type Backup struct {
	Version    int                        `json:"version"`
	ExportedAt time.Time                  `json:"exportedAt"`
	Data       map[string]json.RawMessage `json:"data"`
}

type exportService struct {
	repo   repositories.Repository
	quiz   QuizService
	recall RecallService
	logger *slog.Logger
	now    func() time.Time
}

func NewExportService(repo repositories.Repository, quiz QuizService, recall RecallService, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		quiz:   quiz,
		recall: recall,
		logger: logger,
		now:    time.Now,
	}
}

// ===== WORKBOOK EXPORT =====

func (s *exportService) ExportWorkbook(ctx context.Context) ([]byte, error) {
	s.logger.Info("Exporting study workbook")

	history, err := s.repo.History().List(ctx)
	if err != nil {
		return nil, persistenceError("load", repositories.KeyHistory, err)
	}
	deck, err := s.recall.Deck(ctx)
	if err != nil {
		return nil, err
	}
	session := s.quiz.Session()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetHistory); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	historyRows := [][]any{{"Title", "Score", "Total", "Percentage", "Date", "Mode", "Time Taken"}}
	for _, entry := range history {
		historyRows = append(historyRows, []any{
			entry.Title, entry.Score, entry.Total, entry.Percentage,
			entry.Date.Format(time.RFC3339), entry.Mode, entry.TimeTaken,
		})
	}
	if err := writeRows(f, sheetHistory, historyRows); err != nil {
		return nil, err
	}

	deckRows := [][]any{{"ID", "Question", "Next Review", "Interval (days)", "Ease Factor", "Added"}}
	for _, item := range deck {
		deckRows = append(deckRows, []any{
			item.ID, item.Question.Text, item.NextReviewDate.Format(time.RFC3339),
			item.Interval, item.EaseFactor, item.AddedAt.Format(time.RFC3339),
		})
	}
	if _, err := f.NewSheet(sheetRecallDeck); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	if err := writeRows(f, sheetRecallDeck, deckRows); err != nil {
		return nil, err
	}

	quizRows := [][]any{toAny(questionHeaders)}
	for _, q := range session.Questions {
		quizRows = append(quizRows, toAny(questionToRow(q)))
	}
	if _, err := f.NewSheet(sheetCurrentQuiz); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	if err := writeRows(f, sheetCurrentQuiz, quizRows); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Study workbook exported",
		"history_entries", len(history),
		"recall_items", len(deck),
		"questions", len(session.Questions))
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return fmt.Errorf("failed to address Excel row: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write Excel row %d: %w", r+1, err)
		}
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func questionToRow(q models.Question) []string {
	var answer string
	switch q.CorrectAnswer.Kind {
	case models.ValueKindItems:
		answer = strings.Join(q.CorrectAnswer.Items, listSeparator)
	case models.ValueKindPairs:
		pairs := make([]string, len(q.CorrectAnswer.Pairs))
		for i, p := range q.CorrectAnswer.Pairs {
			pairs[i] = p.Prompt + pairSeparator + p.Answer
		}
		answer = strings.Join(pairs, listSeparator)
	default:
		answer = q.CorrectAnswer.Text
	}
	return []string{
		string(q.QuestionType),
		q.Text,
		strings.Join(q.Options, listSeparator),
		strings.Join(q.MatchOptions, listSeparator),
		answer,
		q.Explanation,
		q.CaseDescription,
	}
}

// ===== QUIZ IMPORT =====

func (s *exportService) ImportQuiz(ctx context.Context, title string, data []byte) (*models.QuizSession, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, newValidationErrors("file", "not a readable Excel workbook", nil)
	}
	defer f.Close()

	sheet := sheetCurrentQuiz
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, newValidationErrors("file", "Excel file has no sheets", nil)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, newValidationErrors("file", "Excel must have header row and at least one data row", len(rows))
	}

	headerMap := make(map[string]int)
	for i, header := range rows[0] {
		headerMap[strings.ToLower(strings.TrimSpace(header))] = i
	}

	var questions []models.Question
	var rowErrors ValidationErrors
	for rowIndex, row := range rows[1:] {
		if rowIsBlank(row) {
			continue
		}
		q, err := parseQuestionRow(row, headerMap)
		if err != nil {
			rowErrors = append(rowErrors, ValidationError{
				Field:   "row " + strconv.Itoa(rowIndex+2),
				Message: err.Error(),
			})
			continue
		}
		questions = append(questions, q)
	}
	if len(rowErrors) > 0 {
		return nil, rowErrors
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Imported Quiz"
	}
	s.logger.Info("Excel quiz import parsed", "sheet", sheet, "questions", len(questions))
	return s.quiz.LoadQuiz(ctx, title, questions)
}

func rowIsBlank(row []string) bool {
	return !slices.ContainsFunc(row, func(cell string) bool { return strings.TrimSpace(cell) != "" })
}

func cellValue(row []string, headerMap map[string]int, header string) string {
	idx, ok := headerMap[strings.ToLower(header)]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, strings.TrimSpace(listSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseQuestionRow(row []string, headerMap map[string]int) (models.Question, error) {
	q := models.Question{
		QuestionType:    models.QuestionType(cellValue(row, headerMap, "Question Type")),
		Text:            cellValue(row, headerMap, "Question"),
		Options:         splitList(cellValue(row, headerMap, "Options")),
		MatchOptions:    splitList(cellValue(row, headerMap, "Match Options")),
		Explanation:     cellValue(row, headerMap, "Explanation"),
		CaseDescription: cellValue(row, headerMap, "Case Description"),
	}
	if !q.QuestionType.IsValid() {
		return q, fmt.Errorf("unsupported question type %q", q.QuestionType)
	}
	if q.Options == nil {
		q.Options = []string{}
	}

	answer := cellValue(row, headerMap, "Correct Answer")
	switch q.QuestionType.ExpectedKind() {
	case models.ValueKindItems:
		q.CorrectAnswer = models.ItemsValue(splitList(answer)...)
	case models.ValueKindPairs:
		var pairs []models.MatchPair
		for _, item := range splitList(answer) {
			prompt, ans, ok := strings.Cut(item, strings.TrimSpace(pairSeparator))
			if !ok {
				return q, fmt.Errorf("matching answer %q must look like prompt%sanswer", item, pairSeparator)
			}
			pairs = append(pairs, models.MatchPair{Prompt: strings.TrimSpace(prompt), Answer: strings.TrimSpace(ans)})
		}
		q.CorrectAnswer = models.PairsValue(pairs...)
	default:
		q.CorrectAnswer = models.TextValue(answer)
	}
	if q.QuestionType == models.QuestionTypeTrueFalse && len(q.Options) == 0 {
		q.Options = []string{"True", "False"}
	}
	return q, nil
}

// ===== JSON BACKUP =====

func (s *exportService) ExportBackup(ctx context.Context) ([]byte, error) {
	backup := Backup{
		Version:    backupVersion,
		ExportedAt: s.now().UTC(),
		Data:       make(map[string]json.RawMessage),
	}
	for _, key := range repositories.AllKeys() {
		value, err := s.repo.Store().Load(ctx, key)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				continue
			}
			return nil, persistenceError("load", key, err)
		}
		backup.Data[key] = json.RawMessage(value)
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	s.logger.Info("Backup exported", "stores", len(backup.Data))
	return data, nil
}

// RestoreBackup overwrites every store present in the backup. Services that
// cache state must be rebuilt afterwards.
func (s *exportService) RestoreBackup(ctx context.Context, data []byte) error {
	var backup Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return newValidationErrors("backup", "not a backup document", nil)
	}
	if backup.Version != backupVersion {
		return newValidationErrors("version", "unsupported backup version", backup.Version)
	}

	known := repositories.AllKeys()
	for key, value := range backup.Data {
		if !slices.Contains(known, key) {
			return newValidationErrors("data", "unknown store "+key, key)
		}
		if !json.Valid(value) {
			return newValidationErrors("data", "store "+key+" is not valid JSON", key)
		}
	}
	for _, key := range known {
		value, ok := backup.Data[key]
		if !ok {
			continue
		}
		if err := s.repo.Store().Save(ctx, key, value); err != nil {
			return persistenceError("save", key, err)
		}
	}
	s.logger.Info("Backup restored", "stores", len(backup.Data))
	return nil
}
