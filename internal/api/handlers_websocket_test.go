package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cewlabs/cew/models"
)

func TestMonitorLabStreamsSnapshots(t *testing.T) {
	s := newTestServer(t)
	lab := createLab(t, s, "s1")

	srv := httptest.NewServer(s.echo)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/labs/" + lab.ID + "/monitor"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	var snap models.Snapshot
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&snap))

	assert.Equal(t, lab.ID, snap.LabID)
	assert.Len(t, snap.Health, 3)
	assert.Len(t, snap.Usage, 3)
}

func TestMonitorLabClosesWhenLabStops(t *testing.T) {
	s := newTestServer(t)
	lab := createLab(t, s, "s1")

	srv := httptest.NewServer(s.echo)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/labs/" + lab.ID + "/monitor"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	var snap models.Snapshot
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&snap))

	rec := doRequest(s, http.MethodDelete, "/api/v1/labs/"+lab.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// The publisher retires within a poll period and the server sends a
	// normal close.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if err := ws.ReadJSON(&snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			return
		}
	}
}

func TestMonitorUnknownLab(t *testing.T) {
	s := newTestServer(t)

	srv := httptest.NewServer(s.echo)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/labs/no-such-lab/monitor"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil) //nolint:bodyclose // handshake failed, no hijacked body
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
