package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestTerminalHandler_WritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandler(&buf, false))
	l.Info("block completed", "chain", "pool-a", "seconds", 12.5)

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "block completed")
	assert.Contains(t, out, "chain=pool-a")
	assert.Contains(t, out, "seconds=12.5")
}

func TestTerminalHandler_WithAttrsPersistsAcrossCalls(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandler(&buf, false)).With("chain", "pool-b")
	l.Warn("mining info still failing")

	assert.Contains(t, buf.String(), "chain=pool-b")
}

func TestJSONHandler_ProducesOneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(JSONHandler(&buf))
	l.Info("nonce accepted", "account", "12****34")

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "{"))
	assert.True(t, strings.HasSuffix(line, "}"))
	assert.Contains(t, line, `"msg":"nonce accepted"`)
}

func TestMaskAccountID(t *testing.T) {
	assert.Equal(t, "123", MaskAccountID(123, true), "short ids are not masked")
	assert.Equal(t, "12****90", MaskAccountID(1234567890, true))
	assert.Equal(t, "1234567890", MaskAccountID(1234567890, false))
}

func TestChainColor_KnownAndUnknownNames(t *testing.T) {
	assert.Equal(t, color.FgRed, ChainColor("red"))
	assert.Equal(t, color.FgWhite, ChainColor("not-a-color"))
}

func TestMultiHandler_FansOutToEveryHandler(t *testing.T) {
	var a, b bytes.Buffer
	l := NewLogger(MultiHandler{Handlers: []slog.Handler{
		NewTerminalHandler(&a, false),
		JSONHandler(&b),
	}})
	l.Info("fanned out")

	assert.Contains(t, a.String(), "fanned out")
	assert.Contains(t, b.String(), "fanned out")
}
