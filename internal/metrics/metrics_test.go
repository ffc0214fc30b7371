package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTransition(t *testing.T) {
	m := New()

	m.ObserveTransition(true)
	m.ObserveTransition(true)
	m.ObserveTransition(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("on")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("off")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeakingParticipants))
}

func TestHandler(t *testing.T) {
	m := New()
	m.AudioFrames.Add(3)
	m.NotifyErrors.WithLabelValues("redis").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "meeting_speaker_audio_frames_total 3"))
	assert.True(t, strings.Contains(body, `meeting_speaker_notify_errors_total{notifier="redis"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
