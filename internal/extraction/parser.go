package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

// ErrNoQuestions is returned when an answer key contains no recognisable question header.
var ErrNoQuestions = errors.New("no questions found")

const (
	defaultMaxScore       = 10
	defaultRubricCriteria = "accuracy_and_detail"
	sectionSeparator      = "---"
)

var (
	headerPattern  = regexp.MustCompile(`(?i)\b(?:soru|question)\s*(\d+)\s*:`)
	answerLabel    = regexp.MustCompile(`(?i)\b(?:cevap|answer)\s*:`)
	pointsLabel    = regexp.MustCompile(`(?i)^(?:puan|points)\s*:`)
	rubricLabel    = regexp.MustCompile(`(?i)^(?:rubrik|rubric)\s*:`)
	sentencePrefix = regexp.MustCompile(`^(.*?[?.])\s*(.*)$`)
)

type block struct {
	id   string
	body string
}

func splitBlocks(text string) []block {
	matches := headerPattern.FindAllStringSubmatchIndex(text, -1)
	blocks := make([]block, 0, len(matches))
	for i, match := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		blocks = append(blocks, block{
			id:   "Q" + text[match[2]:match[3]],
			body: strings.TrimSpace(text[match[1]:end]),
		})
	}
	return blocks
}

// ParseAnswerKey reads "Soru N:" / "Question N:" blocks. A block may be split by "---" into
// the question text and labelled Cevap/Answer, Puan/Points and Rubrik/Rubric (JSON) sections.
// Without sections the first sentence is the question and the rest the expected answer.
func ParseAnswerKey(text string) ([]models.QuestionUnit, error) {
	blocks := splitBlocks(Normalize(text))
	if len(blocks) == 0 {
		return nil, ErrNoQuestions
	}

	seen := make(map[string]struct{}, len(blocks))
	questions := make([]models.QuestionUnit, 0, len(blocks))
	for _, b := range blocks {
		if _, dup := seen[b.id]; dup {
			return nil, fmt.Errorf("question %s: duplicate label", b.id)
		}
		seen[b.id] = struct{}{}

		question, err := parseQuestionBlock(b)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, nil
}

func parseQuestionBlock(b block) (models.QuestionUnit, error) {
	question := models.QuestionUnit{QuestionID: b.id, MaxScore: defaultMaxScore}

	if strings.Contains(b.body, sectionSeparator) {
		parts := strings.Split(b.body, sectionSeparator)
		question.QuestionText = strings.TrimSpace(parts[0])
		for _, part := range parts[1:] {
			part = strings.TrimSpace(part)
			switch {
			case part == "":
			case pointsLabel.MatchString(part):
				points, err := strconv.Atoi(strings.TrimSpace(pointsLabel.ReplaceAllString(part, "")))
				if err != nil || points <= 0 {
					return models.QuestionUnit{}, fmt.Errorf("question %s: invalid points %q", b.id, part)
				}
				question.MaxScore = points
			case rubricLabel.MatchString(part):
				var rubric map[string]int
				if err := json.Unmarshal([]byte(strings.TrimSpace(rubricLabel.ReplaceAllString(part, ""))), &rubric); err != nil {
					return models.QuestionUnit{}, fmt.Errorf("question %s: invalid rubric: %w", b.id, err)
				}
				question.Rubric = rubric
			case answerLabel.MatchString(part):
				question.ExpectedAnswer = strings.TrimSpace(answerLabel.ReplaceAllString(part, ""))
			case question.ExpectedAnswer == "":
				question.ExpectedAnswer = part
			}
		}
	} else if loc := answerLabel.FindStringIndex(b.body); loc != nil {
		question.QuestionText = strings.TrimSpace(b.body[:loc[0]])
		question.ExpectedAnswer = strings.TrimSpace(b.body[loc[1]:])
	} else if match := sentencePrefix.FindStringSubmatch(b.body); match != nil {
		question.QuestionText = strings.TrimSpace(match[1])
		question.ExpectedAnswer = strings.TrimSpace(match[2])
	} else {
		question.QuestionText = b.body
	}

	if len(question.Rubric) == 0 {
		question.Rubric = map[string]int{defaultRubricCriteria: question.MaxScore}
	}
	return question, nil
}

// ParseStudentSheet reads the same block headers as the answer key. The answer is the text
// after a Cevap/Answer label, or the whole block when no label is present. Repeated labels
// keep the first block.
func ParseStudentSheet(text, studentID string) []models.AnswerUnit {
	blocks := splitBlocks(Normalize(text))
	answers := make([]models.AnswerUnit, 0, len(blocks))
	seen := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if _, dup := seen[b.id]; dup {
			continue
		}
		seen[b.id] = struct{}{}

		answer := b.body
		if loc := answerLabel.FindStringIndex(b.body); loc != nil {
			answer = strings.TrimSpace(b.body[loc[1]:])
		}
		answers = append(answers, models.AnswerUnit{
			StudentID:  studentID,
			QuestionID: b.id,
			AnswerText: answer,
		})
	}
	return answers
}
