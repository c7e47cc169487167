package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestNewEventAssignsID(t *testing.T) {
	a := NewEvent(TaskPassed)
	b := NewEvent(TaskPassed)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, TaskPassed, a.Action)
	assert.False(t, a.At.IsZero())
}

func TestMultiFansOut(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	sink := Multi{first, nil, second, Nop{}}

	sink.Record(context.Background(), NewEvent(EnrollmentCreated))

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := LogSink{Logger: zap.New(core)}

	e := NewEvent(TaskUnlocked)
	e.EnrollmentID = 4
	e.TaskID = 9
	sink.Record(context.Background(), e)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "audit", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, TaskUnlocked, fields["action"])
	assert.EqualValues(t, 9, fields["task_id"])
	_, hasTrade := fields["trade_id"]
	assert.False(t, hasTrade)

	LogSink{}.Record(context.Background(), e)
}

func TestWebhookSinkPostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		_ = json.NewDecoder(r.Body).Decode(&e)
		received <- e
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())
	e := NewEvent(TradeSubmitted)
	e.TradeID = 12
	sink.Record(context.Background(), e)
	sink.Wait()

	select {
	case got := <-received:
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, uint(12), got.TradeID)
	default:
		t.Fatal("webhook not called")
	}
}

func TestWebhookSinkLogsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	sink := NewWebhookSink(srv.URL, time.Second, zap.New(core))
	sink.Record(context.Background(), NewEvent(TaskPassed))
	sink.Wait()

	assert.Equal(t, 1, logs.Len())
	assert.EqualValues(t, http.StatusInternalServerError, logs.All()[0].ContextMap()["status"])
}
