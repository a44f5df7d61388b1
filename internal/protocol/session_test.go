package protocol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSession_Transmit(t *testing.T) {
	s := NewSession(seededConfig(1), zap.NewNop(), nil)
	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, s.Status())

	ticket, err := s.Transmit(context.Background(), testJob())
	require.NoError(t, err)
	res, err := ticket.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, s.Status())
	assert.Same(t, res, s.LastResult())
	assert.Equal(t, ticket.ID, s.Latest())

	require.NoError(t, s.Close())
	assert.Equal(t, StatusClosed, s.Status())

	var events []SessionEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, StatusQueued, events[0].Status)
	assert.Equal(t, StatusClosed, events[len(events)-1].Status)

	var completed *SessionEvent
	for i := range events {
		assert.Equal(t, s.ID(), events[i].SessionID)
		if events[i].Status == StatusCompleted {
			completed = &events[i]
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, ticket.ID, completed.RequestID)
	assert.Equal(t, 1.0, completed.Progress)
	assert.NotNil(t, completed.Result)
}

func TestSession_FailureEvent(t *testing.T) {
	s := NewSession(seededConfig(1), zap.NewNop(), nil)
	defer s.Close()

	job := testJob()
	job.OFDM.NumSubcarriers = 500
	ticket, err := s.Transmit(context.Background(), job)
	require.NoError(t, err)
	_, err = ticket.Wait(waitCtx(t))
	require.Error(t, err)

	assert.Equal(t, StatusError, s.Status())
	assert.Nil(t, s.LastResult())
}

func TestSession_TransmitAfterClose(t *testing.T) {
	s := NewSession(seededConfig(1), zap.NewNop(), nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Transmit(context.Background(), testJob())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StatusClosed, s.Status())
}

func TestSessionEvent_JSON(t *testing.T) {
	data, err := json.Marshal(SessionEvent{SessionID: "abc", Status: StatusRunning, Stage: StageChannel, Progress: 0.4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"abc","status":"running","stage":"channel","progress":0.4}`, string(data))
}
