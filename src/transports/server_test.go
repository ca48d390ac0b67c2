package transports

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-screener/src/frames"
	"github.com/square-key-labs/strawgo-screener/src/recording"
	"github.com/square-key-labs/strawgo-screener/src/session"
	"github.com/square-key-labs/strawgo-screener/src/storage"
)

// echoRunner answers every start event with a clear and a mark, and
// records what it saw.
type echoRunner struct {
	mu   sync.Mutex
	seen []string
}

func (e *echoRunner) Serve(_ context.Context, out session.Sender, in <-chan frames.Frame) error {
	for f := range in {
		e.mu.Lock()
		e.seen = append(e.seen, f.Name())
		e.mu.Unlock()
		switch f.(type) {
		case *frames.StartFrame:
			if err := out.Send(frames.NewClearFrame()); err != nil {
				return err
			}
			if err := out.Send(frames.NewMarkFrame("greeting", frames.Outbound)); err != nil {
				return err
			}
		case *frames.StopFrame, *frames.ClosedFrame:
			return nil
		}
	}
	return nil
}

func (e *echoRunner) Active() int { return 0 }

func (e *echoRunner) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func newTestServer(t *testing.T, runner SessionRunner, opts ...Option) *httptest.Server {
	t.Helper()
	srv := NewServer(Config{StreamURL: "wss://screen.example.com/media"}, runner, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestMediaStreamRoundTrip(t *testing.T) {
	runner := &echoRunner{}
	ts := newTestServer(t, runner)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/media"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	msgs := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"dtmf","streamSid":"MZ1"}`,
		`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","accountSid":"AC1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`,
		`{"event":"media","streamSid":"MZ1","media":{"payload":"!!not base64"}}`,
		`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"//8="}}`,
	}
	for _, m := range msgs {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(m)))
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"MZ1"}`, string(data))

	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	var mark struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Mark      struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	require.NoError(t, json.Unmarshal(data, &mark))
	assert.Equal(t, "mark", mark.Event)
	assert.Equal(t, "MZ1", mark.StreamSid)
	assert.Equal(t, "greeting", mark.Mark.Name)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)))
	require.Eventually(t, func() bool {
		n := runner.names()
		return len(n) > 0 && n[len(n)-1] == "StopFrame"
	}, 2*time.Second, 5*time.Millisecond)

	// unknown and malformed messages never reach the session
	assert.Equal(t, []string{"ConnectedFrame", "StartFrame", "AudioFrame", "StopFrame"}, runner.names())
}

func TestMediaStreamDisconnectDeliversClosed(t *testing.T) {
	runner := &echoRunner{}
	ts := newTestServer(t, runner)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/media", nil)
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		n := runner.names()
		return len(n) == 1 && n[0] == "ClosedFrame"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTwiMLAnswer(t *testing.T) {
	ts := newTestServer(t, &echoRunner{})

	resp, err := http.PostForm(ts.URL+"/twiml", url.Values{"From": {"+15551234567"}, "CallSid": {"CA1"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), `<Stream url="wss://screen.example.com/media">`)
	assert.Contains(t, string(body), `<Parameter name="From" value="+15551234567">`)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &echoRunner{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func seedStore(t *testing.T) (*storage.MemoryStore, *recording.Store, string) {
	t.Helper()
	dir := t.TempDir()
	recs, err := recording.NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "call_CA1.wav"), []byte("RIFFdata"), 0o644))

	store := storage.NewMemoryStore()
	rec := storage.Summarize(storage.CallSummary{CallSID: "CA1", From: "+15551234567", Recording: "call_CA1.wav", StartedAt: time.Now()})
	require.NoError(t, store.Append(context.Background(), rec))
	return store, recs, rec.ID
}

func TestVoicemailAPI(t *testing.T) {
	store, recs, id := seedStore(t)
	ts := newTestServer(t, &echoRunner{}, WithStore(store), WithRecordings(recs))

	resp, err := http.Get(ts.URL + "/voicemails")
	require.NoError(t, err)
	var list []storage.CallRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.True(t, list[0].Unread)

	resp, err = http.Get(ts.URL + "/voicemails/" + id + "/recording")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RIFFdata", string(body))

	resp, err = http.Post(ts.URL+"/voicemails/"+id+"/read", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, rec.Unread)

	resp, err = http.Get(ts.URL + "/voicemails/does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := NewServer(Config{AllowedOrigins: []string{"https://dash.example.com"}}, &echoRunner{}, WithStore(store))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/voicemails", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/voicemails", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
