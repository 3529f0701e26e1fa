package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchEventsParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[{"detection_id":"d-1","gate_id":3,"plate":"AB12CD","direction":"in","detected_at":"2026-03-10T08:00:00Z"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second)
	events, err := client.FetchEvents(context.Background(), time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "d-1", events[0].DetectionID)
	assert.Equal(t, int64(3), events[0].GateID)
	assert.Equal(t, "AB12CD", events[0].Plate)
}

func TestFetchEventsServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.FetchEvents(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchEventsConnectionRefusedIsUnavailable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", 500*time.Millisecond)
	_, err := client.FetchEvents(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchEventsTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 50*time.Millisecond)
	_, err := client.FetchEvents(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
