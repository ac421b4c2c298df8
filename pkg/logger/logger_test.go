package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesEntries(t *testing.T) {
	log := New("test", "0.0.0")
	log.DisableConsoleOutput()

	ch := log.Subscribe()
	log.Infof("instance %d synced", 7)

	select {
	case entry := <-ch:
		assert.Equal(t, "INFO", entry.Level)
		assert.Equal(t, "test", entry.Component)
		assert.Equal(t, "instance 7 synced", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("no log entry received")
	}
}

func TestNamedLoggerKeepsSubscribers(t *testing.T) {
	root := New("accountsync", "0.0.0")
	root.DisableConsoleOutput()
	ch := root.Subscribe()

	child := root.Named("scheduler")
	child.Warn("task skipped")

	select {
	case entry := <-ch:
		assert.Equal(t, "WARN", entry.Level)
		assert.Equal(t, "accountsync.scheduler", entry.Component)
	case <-time.After(time.Second):
		t.Fatal("no log entry received")
	}
}

func TestWithFields(t *testing.T) {
	log := New("test", "0.0.0")
	log.DisableConsoleOutput()
	ch := log.Subscribe()

	log.WithFields(map[string]string{"instance": "3"}).Info("synced")

	select {
	case entry := <-ch:
		require.NotNil(t, entry.Fields)
		assert.Equal(t, "3", entry.Fields["instance"])
	case <-time.After(time.Second):
		t.Fatal("no log entry received")
	}
}

func TestFormatComponentName(t *testing.T) {
	assert.Len(t, formatComponentName("abc"), ComponentNameWidth)

	long := formatComponentName("a-very-long-component-name-indeed")
	assert.Equal(t, "…", long[len(long)-len("…"):])
	assert.Len(t, []rune(long), ComponentNameWidth)
}
