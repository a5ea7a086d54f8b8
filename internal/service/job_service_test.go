package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/extraction"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

type recordingArchive struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingArchive) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if _, err := io.ReadAll(reader); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return "https://archive.example/" + name, nil
}

func (r *recordingArchive) uploaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestJobService(f *orchestratorFixture, archive DocumentArchive) JobService {
	return NewJobService(JobServiceConfig{
		Registry:     f.registry,
		Orchestrator: f.orchestrator,
		Results:      f.results,
		Broker:       f.events.broker,
		Archive:      archive,
		Logger:       testLogger(),
	})
}

func TestJobServiceValidatesDocuments(t *testing.T) {
	svc := newTestJobService(newOrchestratorFixture(1), nil)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, models.Document{Name: "key.txt"}, sheets("ali.txt"))
	require.ErrorIs(t, err, extraction.ErrEmptyDocument)

	_, err = svc.CreateJob(ctx, models.Document{Name: "key.txt", Content: []byte("Soru 1: x")}, nil)
	require.ErrorIs(t, err, ErrNoStudentSheets)

	_, err = svc.CreateJob(ctx, models.Document{Name: "key.txt", Content: []byte("Soru 1: x")},
		[]models.Document{{Name: "ali.txt"}})
	require.ErrorIs(t, err, extraction.ErrEmptyDocument)
}

func TestJobServiceRunsJobInBackground(t *testing.T) {
	f := newOrchestratorFixture(1)
	f.extractor.questions = fiveQuestions()
	f.extractor.answers["ali.txt"] = answersFor("ali", "Q1", "Q2")
	archive := &recordingArchive{}
	svc := newTestJobService(f, archive)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := svc.CreateJob(ctx, models.Document{Name: "key.txt", Content: []byte("key")}, sheets("ali.txt"))
	cancel()
	require.NoError(t, err)
	require.Equal(t, models.JobStatusStarting, job.Status)
	require.NotEmpty(t, job.ID)

	f.orchestrator.Wait()

	stored, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, stored.Status)

	results, err := svc.ListResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Eventually(t, func() bool { return len(archive.uploaded()) == 2 }, time.Second, 10*time.Millisecond)
	require.Contains(t, archive.uploaded(), job.ID+"-key.txt")
}

func TestJobServiceUnknownJob(t *testing.T) {
	svc := newTestJobService(newOrchestratorFixture(1), nil)

	_, err := svc.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.ListResults(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, _, err = svc.Subscribe(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobServiceSubscribeStreamsUntilDone(t *testing.T) {
	f := newOrchestratorFixture(1)
	f.extractor.questions = fiveQuestions()
	f.extractor.answers["ali.txt"] = answersFor("ali", "Q1")
	svc := newTestJobService(f, nil)

	job := f.registry.Create(context.Background())
	events, cancel, err := svc.Subscribe(context.Background(), job.ID)
	require.NoError(t, err)
	defer cancel()

	f.orchestrator.Start(context.Background(), job.ID, models.Document{Name: "key.txt"}, sheets("ali.txt"))

	received := drain(t, events)
	require.Equal(t, []models.EventKind{
		models.EventJobStarted,
		models.EventPartialResult,
		models.EventStudentSummary,
		models.EventJobDone,
	}, eventKinds(received))
	f.orchestrator.Wait()
}

func TestJobRegistryRejectsBackwardTransitions(t *testing.T) {
	registry := NewJobRegistry(nil, testLogger())
	ctx := context.Background()
	job := registry.Create(ctx)

	_, err := registry.Transition(ctx, job.ID, models.JobStatusCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = registry.Transition(ctx, job.ID, models.JobStatusProcessing, "")
	require.NoError(t, err)
	failed, err := registry.Transition(ctx, job.ID, models.JobStatusFailed, "boom")
	require.NoError(t, err)
	require.Equal(t, "boom", failed.Error)

	_, err = registry.Transition(ctx, job.ID, models.JobStatusProcessing, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = registry.Transition(ctx, "missing", models.JobStatusProcessing, "")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestExportServiceWritesWorkbook(t *testing.T) {
	f := newOrchestratorFixture(1)
	f.extractor.questions = fiveQuestions()
	f.extractor.answers["ali.txt"] = answersFor("ali", "Q1", "Q2")
	f.extractor.answers["veli.txt"] = answersFor("veli", "Q1")
	svc := newTestJobService(f, nil)

	job := f.registry.Create(context.Background())
	require.NoError(t, f.orchestrator.Run(context.Background(), job.ID, models.Document{Name: "key.txt"}, sheets("ali.txt", "veli.txt")))

	content, err := NewExportService(svc, testLogger()).ExportResults(context.Background(), job.ID)
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer func() { _ = book.Close() }()

	rows, err := book.GetRows("Results")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "Student", rows[0][0])
	require.Equal(t, "ali", rows[1][0])
	require.Equal(t, "Q1", rows[1][1])

	totals, err := book.GetRows("Students")
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"Student", "Total Score", "Max Total", "Invalid Results"},
		{"ali", "14", "20", "0"},
		{"veli", "7", "10", "0"},
	}, totals)

	_, err = NewExportService(svc, testLogger()).ExportResults(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}
