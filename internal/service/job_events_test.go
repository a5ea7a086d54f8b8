package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

func drain(t *testing.T, events <-chan models.StreamEvent) []models.StreamEvent {
	t.Helper()
	var out []models.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("stream not closed, received %d events", len(out))
		}
	}
}

func TestEventBrokerDeliversInOrderAndClosesOnTerminal(t *testing.T) {
	broker := NewEventBroker(EventBrokerConfig{Logger: testLogger()})
	ctx := context.Background()

	events, cancel := broker.Subscribe("job-1")
	defer cancel()

	_, err := broker.Publish(ctx, "job-1", models.EventJobStarted, dto.JobStartedPayload{TotalQuestions: 2})
	require.NoError(t, err)
	_, err = broker.Publish(ctx, "job-1", models.EventStudentSummary, dto.StudentSummaryPayload{StudentID: "ali"})
	require.NoError(t, err)
	_, err = broker.Publish(ctx, "job-1", models.EventJobDone, dto.JobDonePayload{JobID: "job-1"})
	require.NoError(t, err)

	received := drain(t, events)
	require.Len(t, received, 3)
	for i, event := range received {
		require.Equal(t, uint64(i+1), event.Sequence)
		require.Equal(t, "job-1", event.JobID)
	}
	require.Equal(t, models.EventJobStarted, received[0].Event)
	require.JSONEq(t, `{"total_questions":2}`, string(received[0].Data))
	require.Equal(t, models.EventJobDone, received[2].Event)

	_, err = broker.Publish(ctx, "job-1", models.EventError, dto.ErrorPayload{Message: "late"})
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestEventBrokerDropsEventsWithoutListener(t *testing.T) {
	broker := NewEventBroker(EventBrokerConfig{Logger: testLogger()})
	ctx := context.Background()

	_, err := broker.Publish(ctx, "job-1", models.EventJobStarted, dto.JobStartedPayload{TotalQuestions: 1})
	require.NoError(t, err)

	events, cancel := broker.Subscribe("job-1")
	defer cancel()

	_, err = broker.Publish(ctx, "job-1", models.EventJobDone, dto.JobDonePayload{JobID: "job-1"})
	require.NoError(t, err)

	received := drain(t, events)
	require.Len(t, received, 1)
	require.Equal(t, models.EventJobDone, received[0].Event)
	require.Equal(t, uint64(2), received[0].Sequence)
}

func TestEventBrokerReplaysBufferedEvents(t *testing.T) {
	broker := NewEventBroker(EventBrokerConfig{ReplaySize: 2, Logger: testLogger()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := broker.Publish(ctx, "job-1", models.EventStudentSummary, dto.StudentSummaryPayload{StudentID: "s"})
		require.NoError(t, err)
	}
	_, err := broker.Publish(ctx, "job-1", models.EventJobDone, dto.JobDonePayload{JobID: "job-1"})
	require.NoError(t, err)

	events, cancel := broker.Subscribe("job-1")
	defer cancel()

	received := drain(t, events)
	require.Len(t, received, 2)
	require.Equal(t, uint64(3), received[0].Sequence)
	require.Equal(t, models.EventJobDone, received[1].Event)
}

func TestEventBrokerEvictsSlowSubscriber(t *testing.T) {
	broker := NewEventBroker(EventBrokerConfig{BufferSize: 1, Logger: testLogger()})
	ctx := context.Background()

	slow, cancelSlow := broker.Subscribe("job-1")
	defer cancelSlow()

	for i := 0; i < 3; i++ {
		_, err := broker.Publish(ctx, "job-1", models.EventStudentSummary, dto.StudentSummaryPayload{StudentID: "s"})
		require.NoError(t, err)
	}

	received := drain(t, slow)
	require.Len(t, received, 1)
	require.Equal(t, uint64(1), received[0].Sequence)
}

func TestEventBrokerCancelClosesChannel(t *testing.T) {
	broker := NewEventBroker(EventBrokerConfig{Logger: testLogger()})

	events, cancel := broker.Subscribe("job-1")
	cancel()
	cancel()

	_, ok := <-events
	require.False(t, ok)

	_, err := broker.Publish(context.Background(), "job-1", models.EventJobDone, dto.JobDonePayload{JobID: "job-1"})
	require.NoError(t, err)
}

func TestEventBrokerForwardsAcrossNodesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	producer := NewEventBroker(EventBrokerConfig{Redis: newClient(), ChannelBase: "grader", Logger: testLogger()})
	consumer := NewEventBroker(EventBrokerConfig{Redis: newClient(), ChannelBase: "grader", Logger: testLogger()})
	require.True(t, consumer.Distributed())
	consumer.Start(ctx)

	events, unsubscribe := consumer.Subscribe("job-remote")
	defer unsubscribe()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("grader:job-events")) > 0
	}, time.Second, 10*time.Millisecond)

	_, err := producer.Publish(ctx, "job-remote", models.EventJobStarted, dto.JobStartedPayload{TotalQuestions: 3})
	require.NoError(t, err)
	_, err = producer.Publish(ctx, "job-remote", models.EventJobDone, dto.JobDonePayload{JobID: "job-remote"})
	require.NoError(t, err)

	received := drain(t, events)
	require.Len(t, received, 2)
	require.Equal(t, models.EventJobStarted, received[0].Event)
	require.Equal(t, uint64(2), received[1].Sequence)
}
