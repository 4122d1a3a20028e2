package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeexecutor/src/model"
)

type stubState struct {
	state *model.SystemState
	err   error
}

func (s *stubState) Get(ctx context.Context) (*model.SystemState, error) {
	return s.state, s.err
}

func TestHealthcheck(t *testing.T) {
	ts := httptest.NewServer(NewRouter(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestStatusReportsSystemState(t *testing.T) {
	state := &stubState{state: &model.SystemState{
		ID:            1,
		Status:        model.SystemStatusActive,
		StartupSyncOK: true,
		KillSwitch:    false,
	}}

	ts := httptest.NewServer(NewRouter(state))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.SystemState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, model.SystemStatusActive, got.Status)
	assert.True(t, got.StartupSyncOK)
	assert.False(t, got.KillSwitch)
}

func TestStatusErrors(t *testing.T) {
	ts := httptest.NewServer(NewRouter(&stubState{err: fmt.Errorf("db down")}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	noState := httptest.NewServer(NewRouter(nil))
	defer noState.Close()

	resp2, err := http.Get(noState.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}
