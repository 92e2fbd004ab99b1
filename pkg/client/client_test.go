package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/environments/{target}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.PathValue("target") == "bad name" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"message":"Invalid customer name: bad name"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"theme_path":"/t/acme.json","current_round":2,"status":"running","message":"ok"}`))
	})
	mux.HandleFunc("POST /api/environments/{target}/screenshots", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"screenshots":[],"message":"Environment is not running."}`))
	})
	mux.HandleFunc("DELETE /api/themes/{target}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("target") == "default" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"message":"Refusing to delete default.json: it is the base template."}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"deleted":true,"theme_path":"/t/` + r.PathValue("target") + `.json","message":"ok"}`))
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"running":true,"backend_healthy":true,"frontend_healthy":true,"services":[{"name":"backend","state":"healthy","pid":7}]}`))
	})
	mux.HandleFunc("POST /api/services/{name}/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "backend" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown service"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET /api/captures", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("target") != "acme" || r.URL.Query().Get("limit") != "3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"r1","target":"acme","round":1,"artifacts":4,"success":true}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api"})
}

func TestCreateEnvironment(t *testing.T) {
	c := newTestServer(t)
	res, err := c.CreateEnvironment(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CurrentRound)
	assert.Equal(t, "running", res.Status)
}

func TestCreateEnvironmentRejectedKeepsBody(t *testing.T) {
	c := newTestServer(t)
	res, err := c.CreateEnvironment(context.Background(), "bad name")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.NotNil(t, res)
	assert.Contains(t, res.Message, "Invalid customer name")
}

func TestCaptureNotReady(t *testing.T) {
	c := newTestServer(t)
	res, err := c.Capture(context.Background(), "acme")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not running")
}

func TestStatusAndReachable(t *testing.T) {
	c := newTestServer(t)
	assert.True(t, c.IsReachable(context.Background()))
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Running)
	require.Len(t, st.Services, 1)
	assert.Equal(t, 7, st.Services[0].PID)

	down := New(Config{BaseURL: "http://127.0.0.1:1/api"})
	assert.False(t, down.IsReachable(context.Background()))
	_, err = down.Status(context.Background())
	assert.Error(t, err)
}

func TestStopService(t *testing.T) {
	c := newTestServer(t)
	require.NoError(t, c.StopService(context.Background(), "backend"))
	err := c.StopService(context.Background(), "db")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP 404: unknown service", apiErr.Error())
}

func TestCaptures(t *testing.T) {
	c := newTestServer(t)
	runs, err := c.Captures(context.Background(), "acme", 3)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].Artifacts)
}

func TestDeleteTheme(t *testing.T) {
	c := newTestServer(t)
	res, err := c.DeleteTheme(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Equal(t, "/t/acme.json", res.ThemePath)

	res, err = c.DeleteTheme(context.Background(), "default")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.NotNil(t, res)
	assert.Contains(t, res.Message, "base template")
}
