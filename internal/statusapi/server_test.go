package statusapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *bus.Bus) {
	t.Helper()
	b := bus.New()
	s := New(config.GetDefaultConfig().StatusAPI, b, "1.2.3")
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, b
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestBuckets(t *testing.T) {
	srv, b := newTestServer(t)
	b.SetBuckets([]bus.BucketVM{{Name: "docs", Bytes: 100, Count: 3}})
	b.SetMountState("docs", bus.StateMounted, "/home/alice/haio-alice-docs")

	resp, err := http.Get(srv.URL + "/v1/buckets")
	require.NoError(t, err)
	defer resp.Body.Close()

	var rows []bus.BucketVM
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "docs", rows[0].Name)
	assert.Equal(t, bus.StateMounted, rows[0].MountState)
	assert.Equal(t, "/home/alice/haio-alice-docs", rows[0].MountPoint)
}

func TestCommand_SubmitsToBus(t *testing.T) {
	srv, b := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/commands", "application/json",
		strings.NewReader(`{"type":"mount","container":"docs"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["id"])

	cmd := <-b.Commands()
	assert.Equal(t, bus.CmdMount, cmd.Type)
	assert.Equal(t, "docs", cmd.Container)
	assert.Equal(t, body["id"], cmd.ID)
}

func TestCommand_RejectsInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/commands", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/v1/commands", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestEvents_StreamsBusEvents(t *testing.T) {
	srv, b := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers arriving means the handler has subscribed.
	b.Status("mounting docs", time.Second)

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	var sawEvent, sawData bool
	for time.Now().Before(deadline) && !(sawEvent && sawData) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: status_message") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "mounting docs") {
			sawData = true
		}
	}
	assert.True(t, sawEvent)
	assert.True(t, sawData)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
