package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func entry(level, msg string) Entry {
	return Entry{Timestamp: time.Now(), Level: level, Message: msg}
}

func TestBuffer_RecentBeforeWrap(t *testing.T) {
	buf, err := NewBuffer(5, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Add(entry("info", fmt.Sprintf("m%d", i))))
	}

	got := buf.Recent(0, zapcore.DebugLevel)
	require.Len(t, got, 3)
	assert.Equal(t, "m0", got[0].Message)
	assert.Equal(t, "m2", got[2].Message)
}

func TestBuffer_WrapKeepsNewest(t *testing.T) {
	buf, err := NewBuffer(3, "")
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, buf.Add(entry("info", fmt.Sprintf("m%d", i))))
	}

	got := buf.Recent(0, zapcore.DebugLevel)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m4", "m5", "m6"}, []string{got[0].Message, got[1].Message, got[2].Message})

	limited := buf.Recent(2, zapcore.DebugLevel)
	require.Len(t, limited, 2)
	assert.Equal(t, "m5", limited[0].Message)
	assert.Equal(t, "m6", limited[1].Message)

	total, spilled := buf.Stats()
	assert.Equal(t, uint64(7), total)
	assert.Equal(t, uint64(0), spilled)
}

func TestBuffer_LevelFilter(t *testing.T) {
	buf, err := NewBuffer(10, "")
	require.NoError(t, err)

	require.NoError(t, buf.Add(entry("debug", "d")))
	require.NoError(t, buf.Add(entry("info", "i")))
	require.NoError(t, buf.Add(entry("error", "e")))
	require.NoError(t, buf.Add(entry("warn", "w")))

	got := buf.Recent(0, zapcore.WarnLevel)
	require.Len(t, got, 2)
	assert.Equal(t, "e", got[0].Message)
	assert.Equal(t, "w", got[1].Message)
}

func TestBuffer_SpillFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "spill.jsonl")
	buf, err := NewBuffer(2, path)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Add(entry("info", fmt.Sprintf("m%d", i))))
	}
	_, spilled := buf.Stats()
	assert.Equal(t, uint64(2), spilled)

	require.NoError(t, buf.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var messages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		messages = append(messages, e.Message)
	}
	// evicted entries first, then the retained ring on close
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, messages)
}

func TestNewBuffer_InvalidSize(t *testing.T) {
	_, err := NewBuffer(0, "")
	assert.Error(t, err)
}

func TestBufferCore_CapturesFieldsAndCallsSink(t *testing.T) {
	buf, err := NewBuffer(10, "")
	require.NoError(t, err)

	var seen []Entry
	core := NewBufferCore(buf, zapcore.InfoLevel, func(e Entry) { seen = append(seen, e) })
	log := zap.New(core).Named("engine").With(zap.String("symbol", "BTCUSDT"))

	log.Debug("hidden")
	log.Info("tick", zap.Int("open", 2))

	got := buf.Recent(0, zapcore.DebugLevel)
	require.Len(t, got, 1)
	assert.Equal(t, "tick", got[0].Message)
	assert.Equal(t, "engine", got[0].Logger)
	assert.Equal(t, "BTCUSDT", got[0].Fields["symbol"])
	assert.EqualValues(t, 2, got[0].Fields["open"])
	require.Len(t, seen, 1)
	assert.Equal(t, "info", seen[0].Level)
}

func TestNewLogger_TeesExtraCore(t *testing.T) {
	buf, err := NewBuffer(10, "")
	require.NoError(t, err)

	log, err := NewLogger("info", "json", NewBufferCore(buf, zapcore.InfoLevel, nil))
	require.NoError(t, err)
	log.Info("hello")

	got := buf.Recent(0, zapcore.DebugLevel)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Message)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger("loud", "json")
	assert.Error(t, err)
}
