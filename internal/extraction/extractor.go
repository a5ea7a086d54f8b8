package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

var (
	// ErrEmptyDocument is returned for uploads without content or without any extractable text.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrUnsupportedDocument is returned for uploads that are neither PDF, HTML nor plain text.
	ErrUnsupportedDocument = errors.New("unsupported document type")
)

// PDFConverter turns PDF bytes into plain text.
type PDFConverter interface {
	Convert(ctx context.Context, content []byte) (string, error)
}

// Extractor turns uploaded documents into question and answer units.
type Extractor struct {
	pdf       PDFConverter
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewExtractor constructs an extractor. A nil converter rejects PDF uploads.
func NewExtractor(pdf PDFConverter, logger zerolog.Logger) *Extractor {
	return &Extractor{
		pdf:       pdf,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "extractor").Logger(),
		tracer:    otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/internal/extraction"),
	}
}

// Questions extracts the question set from an answer key.
func (e *Extractor) Questions(ctx context.Context, doc models.Document) ([]models.QuestionUnit, error) {
	ctx, span := e.tracer.Start(ctx, "extraction.questions", trace.WithAttributes(
		attribute.String("document.name", doc.Name),
	))
	defer span.End()

	text, err := e.Text(ctx, doc)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("answer key %q: %w", doc.Name, err)
	}

	questions, err := ParseAnswerKey(text)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("answer key %q: %w", doc.Name, err)
	}

	e.logger.Debug().Str("document", doc.Name).Int("questions", len(questions)).Msg("answer key parsed")
	return questions, nil
}

// Answers extracts one student's answers. The student is identified by the file name stem.
func (e *Extractor) Answers(ctx context.Context, doc models.Document) ([]models.AnswerUnit, error) {
	ctx, span := e.tracer.Start(ctx, "extraction.answers", trace.WithAttributes(
		attribute.String("document.name", doc.Name),
	))
	defer span.End()

	text, err := e.Text(ctx, doc)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("student sheet %q: %w", doc.Name, err)
	}

	answers := ParseStudentSheet(text, StudentID(doc.Name))
	e.logger.Debug().Str("document", doc.Name).Int("answers", len(answers)).Msg("student sheet parsed")
	return answers, nil
}

// Text returns the normalised text of a PDF, HTML or plain text document.
func (e *Extractor) Text(ctx context.Context, doc models.Document) (string, error) {
	if len(doc.Content) == 0 {
		return "", ErrEmptyDocument
	}

	detected := mimetype.Detect(doc.Content)
	var raw string
	switch {
	case detected.Is("application/pdf"):
		if e.pdf == nil {
			return "", fmt.Errorf("%w: pdf conversion disabled", ErrUnsupportedDocument)
		}
		converted, err := e.pdf.Convert(ctx, doc.Content)
		if err != nil {
			return "", fmt.Errorf("convert pdf: %w", err)
		}
		raw = converted
	case detected.Is("text/html") && utf8.Valid(doc.Content):
		raw = htmlText(e.sanitizer, string(doc.Content))
	case isText(detected) && utf8.Valid(doc.Content):
		raw = string(doc.Content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, detected.String())
	}

	text := Normalize(raw)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// StudentID derives the student identifier from an uploaded file name.
func StudentID(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		return base
	}
	return stem
}

func isText(detected *mimetype.MIME) bool {
	for current := detected; current != nil; current = current.Parent() {
		if current.Is("text/plain") {
			return true
		}
	}
	return false
}
