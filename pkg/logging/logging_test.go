package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := Logger(&buf, true, slog.LevelDebug)

	ctx := AppendCtx(context.Background(), slog.String("app", "imgctl"))
	ctx = AppendCtx(ctx, slog.Int("run", 3))
	log.DebugContext(ctx, "decoded", slog.String("format", "png"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "decoded", rec["msg"])
	assert.Equal(t, "imgctl", rec["app"])
	assert.Equal(t, float64(3), rec["run"])
	assert.Equal(t, "png", rec["format"])
}

func TestAppendCtxDoesNotShareParent(t *testing.T) {
	parent := AppendCtx(context.Background(), slog.String("a", "1"))
	left := AppendCtx(parent, slog.String("b", "2"))
	right := AppendCtx(parent, slog.String("c", "3"))

	assert.Equal(t, []string{"a=1"}, attrStrings(parent))
	assert.Equal(t, []string{"a=1", "b=2"}, attrStrings(left))
	assert.Equal(t, []string{"a=1", "c=3"}, attrStrings(right))
}

func attrStrings(ctx context.Context) []string {
	var out []string
	attrs, _ := ctx.Value(slogFields).([]slog.Attr)
	for _, a := range attrs {
		out = append(out, a.String())
	}
	return out
}

func TestLevelFilterAndText(t *testing.T) {
	var buf bytes.Buffer
	log := Logger(&buf, false, slog.LevelWarn).With(slog.String("decode_id", "x1"))
	log.Info("dropped")
	log.Warn("kept")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
	assert.Contains(t, out, "decode_id=x1")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestRotatingWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgctl.log")
	w := NewRotatingWriter(path, 1, 2, 1)
	log := Logger(w, false, slog.LevelInfo)
	log.Info("hello", slog.Int("n", 1))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello n=1")
}
