package websocket

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-speaker-server-golang/constants"
	"meeting-speaker-server-golang/internal/app/server/auth"
	"meeting-speaker-server-golang/internal/app/server/room"
	"meeting-speaker-server-golang/internal/app/server/session"
	"meeting-speaker-server-golang/internal/app/server/types"
	types_audio "meeting-speaker-server-golang/internal/data/audio"
	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/domain/audio"
	"meeting-speaker-server-golang/internal/domain/speech"
	"meeting-speaker-server-golang/internal/metrics"
	"meeting-speaker-server-golang/internal/util"
)

type testEnv struct {
	mgr     *room.Manager
	sched   *speech.ManualScheduler
	fc      *clockwork.FakeClock
	metrics *metrics.Metrics
	srv     *httptest.Server
	wsURL   string
}

func newTestEnv(t *testing.T, opts ...WebSocketServerOption) *testEnv {
	t.Helper()
	env := &testEnv{
		sched:   speech.NewManualScheduler(),
		fc:      clockwork.NewFakeClock(),
		metrics: metrics.New(),
	}
	mgr, err := room.NewManager(speech.DefaultConfig(),
		room.WithScheduler(env.sched),
		room.WithClock(env.fc),
		room.WithMetrics(env.metrics),
	)
	require.NoError(t, err)
	env.mgr = mgr

	opts = append([]WebSocketServerOption{
		WithOnNewConnection(func(conn types.IConn) {
			go session.New(conn, mgr).Run()
		}),
		WithMetricsHandler(env.metrics.Handler()),
	}, opts...)
	ws := NewWebSocketServer(0, mgr, opts...)
	env.srv = httptest.NewServer(ws.Handler())
	env.wsURL = "ws" + strings.TrimPrefix(env.srv.URL, "http")

	t.Cleanup(func() {
		env.srv.Close()
		mgr.Close()
	})
	return env
}

func (e *testEnv) dialAudio(t *testing.T, roomID, participantID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Room-Id", roomID)
	header.Set("Participant-Id", participantID)
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL+"/meeting/v1/audio", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialEvents 连接事件流并读取首条快照
func (e *testEnv) dialEvents(t *testing.T, roomID string) (*websocket.Conn, msg.RoomSnapshot) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL+"/meeting/v1/events?room_id="+roomID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var snap msg.RoomSnapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))
	return conn, snap
}

func (e *testEnv) frames(n int) {
	for i := 0; i < n; i++ {
		e.fc.Advance(16 * time.Millisecond)
		e.sched.Frame()
	}
}

func loudPCM() []byte {
	samples := make([]float32, 960)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.2
		} else {
			samples[i] = -0.2
		}
	}
	return audio.EncodePCM16(samples, nil)
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestAudioRequiresHeaders(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/audio", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsRequiresRoom(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.srv.URL+"/meeting/v1/events", nil))
}

func TestInvalidIDsRejected(t *testing.T) {
	env := newTestEnv(t, WithMqttCredentials(MqttCredentialConfig{
		GroupID:      "meeting",
		SignatureKey: "key",
		TopicPrefix:  "meeting/speaking",
	}))

	for _, room := range []string{"+", "a@@@b"} {
		header := http.Header{}
		header.Set("Room-Id", room)
		header.Set("Participant-Id", "alice")
		_, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/audio", header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, room)
	}

	header := http.Header{}
	header.Set("Room-Id", "r1")
	header.Set("Participant-Id", "#")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/audio", header)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.srv.URL+"/meeting/v1/events?room_id=%2B", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.srv.URL+"/meeting/v1/rooms/+", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.srv.URL+"/meeting/v1/rooms/+/mqtt", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.srv.URL+"/meeting/v1/rooms/%23/mqtt", nil))
	assert.Empty(t, env.mgr.RoomIDs())
}

func TestAuth(t *testing.T) {
	am := auth.NewAuthManager()
	am.RegisterToken("secret", "test")
	env := newTestEnv(t, WithAuthManager(am))

	header := http.Header{}
	header.Set("Room-Id", "r1")
	header.Set("Participant-Id", "alice")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/audio", header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header.Set("Authorization", "Bearer wrong")
	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/audio", header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header.Set("Authorization", "Bearer secret")
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/audio", header)
	require.NoError(t, err)
	conn.Close()

	// 浏览器使用 query 传递令牌
	conn, _, err = websocket.DefaultDialer.Dial(env.wsURL+"/meeting/v1/events?room_id=r1&token=secret", nil)
	require.NoError(t, err)
	conn.Close()

	assert.Equal(t, http.StatusUnauthorized, getJSON(t, env.srv.URL+"/meeting/v1/rooms/r1", nil))
}

func TestSpeakingEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	events, snap := env.dialEvents(t, "r1")
	assert.Equal(t, constants.MessageTypeSnapshot, snap.Type)
	assert.Empty(t, snap.Participants)

	conn := env.dialAudio(t, "r1", "alice")
	require.NoError(t, conn.WriteJSON(msg.ClientMessage{
		Type:        constants.MessageTypeHello,
		DisplayName: "Alice",
		AudioParams: &types_audio.AudioFormat{Format: constants.AudioFormatPCM, SampleRate: 16000, Channels: 1, FrameDuration: 60},
	}))

	var reply msg.ServerMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, constants.MessageTypeHello, reply.Type)
	assert.Equal(t, msg.MessageStateSuccess, reply.State)
	assert.NotEmpty(t, reply.SessionID)

	for i := 0; i < 4; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, loudPCM()))
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.metrics.AudioFrames) == 4
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	env.frames(20)

	var ev msg.SpeakingEvent
	events.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, events.ReadJSON(&ev))
	assert.Equal(t, constants.MessageTypeSpeaking, ev.Type)
	assert.Equal(t, "r1", ev.RoomID)
	assert.Equal(t, "alice", ev.ParticipantID)
	assert.True(t, ev.Speaking)

	var current msg.RoomSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, env.srv.URL+"/meeting/v1/rooms/r1", &current))
	require.Len(t, current.Participants, 1)
	assert.Equal(t, "Alice", current.Participants[0].DisplayName)
	assert.True(t, current.Participants[0].Speaking)

	// 断开音频连接等同离开，前端收到 speaking=false
	conn.Close()
	events.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, events.ReadJSON(&ev))
	assert.Equal(t, "alice", ev.ParticipantID)
	assert.False(t, ev.Speaking)

	require.Eventually(t, func() bool {
		_, ok := env.mgr.Room("r1")
		return !ok || len(env.mgr.Snapshot("r1").Participants) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRoomsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Join("r1", "alice", "Alice", types_audio.DefaultAudioFormat())
	require.NoError(t, err)
	_, err = env.mgr.Join("r2", "bob", "", types_audio.DefaultAudioFormat())
	require.NoError(t, err)

	sub, err := env.mgr.Subscribe("r1")
	require.NoError(t, err)
	defer env.mgr.Unsubscribe(sub)

	var list struct {
		Rooms []msg.RoomSummary `json:"rooms"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.srv.URL+"/meeting/v1/rooms", &list))
	assert.Equal(t, []msg.RoomSummary{
		{RoomID: "r1", Participants: 1, Subscribers: 1},
		{RoomID: "r2", Participants: 1, Subscribers: 0},
	}, list.Rooms)

	var snap msg.RoomSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, env.srv.URL+"/meeting/v1/rooms/r2", &snap))
	assert.Equal(t, "r2", snap.RoomID)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "bob", snap.Participants[0].ParticipantID)
	assert.False(t, snap.Participants[0].Speaking)

	// 不存在的会议室返回空快照
	require.Equal(t, http.StatusOK, getJSON(t, env.srv.URL+"/meeting/v1/rooms/nobody", &snap))
	assert.Empty(t, snap.Participants)
}

func TestMqttCredentialsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, env.srv.URL+"/meeting/v1/rooms/r1/mqtt", nil))

	env = newTestEnv(t, WithMqttCredentials(MqttCredentialConfig{
		GroupID:      "meeting",
		SignatureKey: "key",
		Endpoint:     "tcp://127.0.0.1:1883",
		TopicPrefix:  "meeting/speaking",
	}))
	var creds struct {
		Endpoint string `json:"endpoint"`
		Topic    string `json:"topic"`
		ClientID string `json:"client_id"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.srv.URL+"/meeting/v1/rooms/r1/mqtt", &creds))
	assert.Equal(t, "tcp://127.0.0.1:1883", creds.Endpoint)
	assert.Equal(t, "meeting/speaking/r1/#", creds.Topic)

	info, err := util.ValidateMqttCredentials(creds.ClientID, creds.Username, creds.Password, "key")
	require.NoError(t, err)
	assert.Equal(t, "r1", info.RoomId)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "meeting_speaker_active_rooms")
}
