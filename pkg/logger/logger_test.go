package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Writer: &buf})
	require.NoError(t, err)

	l = l.With(String("engine", "swing-5m"))
	l.Debug("dropped")
	l.Info("scored",
		String("symbol", "AAPL"),
		Int("score", 82),
		Float64("atr", 1.25),
		Bool("gated", false),
		Duration("took", 1500*time.Millisecond),
		Strings("reasons", []string{"bos", "obv"}),
		Error(errors.New("stale bar")),
		Error(nil),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "scored", e["message"])
	assert.Equal(t, "swing-5m", e["engine"])
	assert.Equal(t, "AAPL", e["symbol"])
	assert.EqualValues(t, 82, e["score"])
	assert.EqualValues(t, 1.25, e["atr"])
	assert.Equal(t, false, e["gated"])
	assert.EqualValues(t, 1500, e["took"])
	assert.Equal(t, []interface{}{"bos", "obv"}, e["reasons"])
	assert.Equal(t, "stale bar", e["error"])
	assert.Contains(t, e, "caller")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	require.Error(t, err)
}

func TestField_Value(t *testing.T) {
	assert.Equal(t, "x", String("k", "x").Value())
	assert.Equal(t, int64(3), Int("k", 3).Value())
	assert.Equal(t, true, Bool("k", true).Value())
	assert.Equal(t, 250.0, Duration("k", 250*time.Millisecond).Value())
	assert.Equal(t, "boom", Error(errors.New("boom")).Value())
	assert.Nil(t, Error(nil).Value())
}

type capture struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (c *capture) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.batches = append(c.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (c *capture) snapshot() [][]AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), c.batches...)
}

func TestCollector_DedupesAndFlushesOnClose(t *testing.T) {
	pub := &capture{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("provider down", String("provider", "polygon"))
	}
	l.Error("provider down", String("provider", "alpaca"))
	l.Warn("below min level")
	l.Info("ignored")
	l.RemoveCollector()

	batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "logs", pub.topic)
	require.Len(t, batches[0], 2)
	counts := map[interface{}]int{}
	for _, e := range batches[0] {
		assert.Equal(t, "error", e.Level)
		assert.Contains(t, e.Caller, "logger_test.go:")
		counts[e.Fields["provider"]] = e.Count
	}
	assert.Equal(t, 3, counts["polygon"])
	assert.Equal(t, 1, counts["alpaca"])
}

func TestCollector_ThresholdFlush(t *testing.T) {
	pub := &capture{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, MinLevel: "warn", Publisher: pub})
	defer c.Close()

	c.AddLog("warn", "a", nil, "x.go:1")
	c.AddLog("warn", "b", nil, "x.go:2")

	assert.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, pub.snapshot()[0], 2)
}

func TestEntryKey_FieldOrderIndependent(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"a": 1, "b": "x"}, "c")
	b := entryKey("error", "m", map[string]interface{}{"b": "x", "a": 1}, "c")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, entryKey("warn", "m", map[string]interface{}{"a": 1, "b": "x"}, "c"))
}
