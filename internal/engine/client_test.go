package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/runbook/internal/common"
	"github.com/ternarybob/runbook/internal/models"
)

func TestDispatch_SendsJobAndReturnsTaskID(t *testing.T) {
	var received dispatchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/tasks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(dispatchResponse{TaskID: "task-42"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, common.GetLogger())
	job := models.NewLeafJob("deploy.yml", "web-01", "alice", map[string]string{"env": "prod"})

	taskID, err := client.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "task-42", taskID)
	assert.Equal(t, job.ID, received.JobID)
	assert.Equal(t, "deploy.yml", received.PlaybookRef)
	assert.Equal(t, "web-01", received.TargetRef)
	assert.Equal(t, "prod", received.ExtraParams["env"])
}

func TestDispatch_EngineErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, common.GetLogger())
	_, err := client.Dispatch(context.Background(), models.NewLeafJob("deploy.yml", "web-01", "", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDispatch_EmptyTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, common.GetLogger())
	_, err := client.Dispatch(context.Background(), models.NewLeafJob("deploy.yml", "web-01", "", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty task ID")
}

func TestRequestCancel_TargetsTask(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, common.GetLogger())
	require.NoError(t, client.RequestCancel(context.Background(), "task-42"))
	assert.Equal(t, "/api/tasks/task-42/cancel", path)
}

func TestDispatch_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, common.GetLogger())
	_, err := client.Dispatch(context.Background(), models.NewLeafJob("deploy.yml", "web-01", "", nil))
	require.Error(t, err)
}
