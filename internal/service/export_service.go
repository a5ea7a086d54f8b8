package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet  = "Results"
	studentsSheet = "Students"
)

// ExportService renders job results as an XLSX workbook.
type ExportService struct {
	jobs   JobService
	logger zerolog.Logger
}

func NewExportService(jobs JobService, logger zerolog.Logger) *ExportService {
	return &ExportService{jobs: jobs, logger: logger.With().Str("component", "export_service").Logger()}
}

// ExportResults returns a workbook with one row per result and a per-student totals sheet.
func (s *ExportService) ExportResults(ctx context.Context, jobID string) ([]byte, error) {
	results, err := s.jobs.ListResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{
		"Student", "Question", "Score", "Max Score", "Valid", "Corrected",
		"Issues", "Rubric Breakdown", "Justification", "Advice", "Graded At",
	}
	writeRow(f, resultsSheet, 1, headers)

	type totals struct {
		score    float64
		maxScore int
		invalid  int
	}
	perStudent := map[string]*totals{}

	for i, result := range results {
		writeRow(f, resultsSheet, i+2, []interface{}{
			result.StudentID,
			result.QuestionID,
			result.Score,
			result.MaxScore,
			result.VerifierStatus.Valid,
			result.VerifierStatus.WasCorrected,
			strings.Join(result.VerifierStatus.Issues, "\n"),
			formatBreakdown(result.RubricBreakdown),
			result.Justification,
			result.Advice,
			result.GradedAt.Format("2006-01-02 15:04:05"),
		})

		t, ok := perStudent[result.StudentID]
		if !ok {
			t = &totals{}
			perStudent[result.StudentID] = t
		}
		t.score += result.Score
		t.maxScore += result.MaxScore
		if !result.VerifierStatus.Valid {
			t.invalid++
		}
	}

	_ = f.SetColWidth(resultsSheet, "A", "B", 14)
	_ = f.SetColWidth(resultsSheet, "G", "H", 36)
	_ = f.SetColWidth(resultsSheet, "I", "J", 60)

	if _, err := f.NewSheet(studentsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	writeRow(f, studentsSheet, 1, []string{"Student", "Total Score", "Max Total", "Invalid Results"})

	students := make([]string, 0, len(perStudent))
	for id := range perStudent {
		students = append(students, id)
	}
	sort.Strings(students)
	for i, id := range students {
		t := perStudent[id]
		writeRow(f, studentsSheet, i+2, []interface{}{id, round2(t.score), t.maxScore, t.invalid})
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Int("rows", len(results)).Msg("results exported")
	return buf.Bytes(), nil
}

func writeRow[T any](f *excelize.File, sheet string, row int, values []T) {
	for col, value := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, value)
	}
}

func formatBreakdown(breakdown map[string]float64) string {
	keys := make([]string, 0, len(breakdown))
	for key := range breakdown {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, formatPoints(breakdown[key])))
	}
	return strings.Join(parts, ", ")
}
