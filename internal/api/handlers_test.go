package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/procscope/procscope/internal/procstore"
	"github.com/procscope/procscope/internal/pushhub"
)

func newTestServer(t *testing.T, killToken string, kill Killer) (*Server, *procstore.Store) {
	t.Helper()
	store := procstore.New()
	hub := pushhub.New(store)
	return New(store, hub, killToken, kill, []string{"*"}), store
}

func TestHandleListProcesses(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	store.Update([]procmodel.Process{{PID: 1, Name: "foo", Level: procmodel.LevelLOW}})

	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []procmodel.ProcessWireFormat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	require.Equal(t, 1, body[0].PID)
}

func TestHandleGetProcess_NotFound(t *testing.T) {
	s, _ := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/processes/999", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetProcess_Found(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	store.Update([]procmodel.Process{{PID: 42, Name: "bar", Level: procmodel.LevelMED}})

	req := httptest.NewRequest(http.MethodGet, "/api/processes/42", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body procmodel.ProcessWireFormat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 42, body.PID)
}

func TestHandleStats(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	store.Update([]procmodel.Process{
		{PID: 1, Level: procmodel.LevelCRITICAL},
		{PID: 2, Level: procmodel.LevelLOW},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Equal(t, 1, body.Critical)
}

func TestHandleKillProcess_RequiresToken(t *testing.T) {
	s, store := newTestServer(t, "secret", func(pid int) error { return nil })
	store.Update([]procmodel.Process{{PID: 1, Name: "foo"}})

	req := httptest.NewRequest(http.MethodPost, "/api/processes/1/kill", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleKillProcess_Succeeds(t *testing.T) {
	var killed int
	s, store := newTestServer(t, "secret", func(pid int) error { killed = pid; return nil })
	store.Update([]procmodel.Process{{PID: 7, Name: "foo"}})

	req := httptest.NewRequest(http.MethodPost, "/api/processes/7/kill", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 7, killed)
}
