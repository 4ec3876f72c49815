package logger

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestEnvLogger_Debug(t *testing.T) {
	tests := []struct {
		name      string
		envValue  string
		expectLog bool
	}{
		{name: "logs when debug env is set", envValue: "1", expectLog: true},
		{name: "logs for any non-empty value", envValue: "true", expectLog: true},
		{name: "silent when debug env is empty", envValue: "", expectLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			t.Setenv(DebugEnv, tt.envValue)

			NewEnvLogger("[deploy]").Debug("stage %s", "update_code")

			if tt.expectLog {
				assert.Contains(t, buf.String(), "[deploy] stage update_code")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestEnvLogger_Levels(t *testing.T) {
	buf := captureLog(t)
	l := NewEnvLogger("[remote]")

	l.Info("fan-out to %d hosts", 3)
	l.Warn("skipping invalid host %q", "web9")
	l.Error("host %s unreachable", "web2")

	out := buf.String()
	assert.Contains(t, out, "[remote] fan-out to 3 hosts")
	assert.Contains(t, out, `[remote] WARN: skipping invalid host "web9"`)
	assert.Contains(t, out, "[remote] ERROR: host web2 unreachable")
}

func TestNoopLogger(t *testing.T) {
	buf := captureLog(t)

	l := Noop()
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	assert.Empty(t, buf.String())
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()

	l.Debug("debug %s", "msg")
	l.Warn("warn %s", "msg")

	require.Len(t, l.Messages, 2)
	assert.Equal(t, LogMessage{Level: "debug", Message: "debug msg"}, l.Messages[0])
	assert.Equal(t, LogMessage{Level: "warn", Message: "warn msg"}, l.Messages[1])

	assert.True(t, l.HasLevel("warn"))
	assert.False(t, l.HasLevel("error"))
	assert.True(t, l.Contains("warn", "msg"))
	assert.False(t, l.Contains("debug", "warn"))

	l.Clear()
	assert.Empty(t, l.Messages)
}

func TestBufferLogger_ConcurrentWriters(t *testing.T) {
	l := NewBufferLogger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("host %d done", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, l.Messages, 20)
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	buf := NewBufferLogger()
	SetDefault(buf)

	assert.Same(t, buf, Default())
	assert.Same(t, buf, OrDefault(nil))

	other := Noop()
	assert.Equal(t, other, OrDefault(other))
}
