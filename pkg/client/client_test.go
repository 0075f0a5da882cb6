package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/api"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

type stubServer struct {
	restarts atomic.Int32
	stopWait atomic.Int64
}

func (s *stubServer) Current() status.StatusEvent { return status.NewEvent(status.Running, "77") }
func (s *stubServer) PID() int                    { return 77 }
func (s *stubServer) Stop(d time.Duration)        { s.stopWait.Store(int64(d)) }
func (s *stubServer) RequestRestart()             { s.restarts.Add(1) }

func newTestClient(t *testing.T) (*Client, *stubServer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := &stubServer{}
	sched := scheduler.New(srv, nil)
	t.Cleanup(sched.Close)
	ts := httptest.NewServer(api.NewRouter(srv, sched, "/api").Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api", Timeout: 5 * time.Second}), srv
}

func TestClient_StatusAndSchedule(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	warn := 15
	e, err := c.AddRecurring(ctx, RecurringRequest{TimeOfDay: "07:15", WarningMinutes: &warn, Reason: "morning"})
	require.NoError(t, err)
	assert.Equal(t, "07:15", e.TimeOfDay)
	assert.Equal(t, 15, e.WarningMinutes)

	once, err := c.AddOnce(ctx, OnceRequest{Time: time.Now().Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, once.Recurring)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 77, st.PID)
	require.NotNil(t, st.Next)

	list, err := c.Schedule(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, c.Remove(ctx, once.ID))
	err = c.Remove(ctx, once.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scheduled restart")

	require.NoError(t, c.Clear(ctx))
	list, err = c.Schedule(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClient_ValidationError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.AddRecurring(context.Background(), RecurringRequest{TimeOfDay: "noon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error")
}

func TestClient_RestartAndStop(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Restart(ctx, RestartRequest{Reason: "update"}))
	require.Eventually(t, func() bool { return srv.restarts.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(ctx, 3*time.Second))
	assert.Equal(t, int64(3*time.Second), srv.stopWait.Load())
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	c := New(Config{BaseURL: ts.URL, Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	require.Error(t, err)
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL})
	err := c.Clear(context.Background())
	require.EqualError(t, err, "HTTP 502")
}
