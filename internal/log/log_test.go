package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"escrowlock/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestWithLogFieldTruncates(t *testing.T) {
	ctx := WithLogField(context.Background(), "hash", strings.Repeat("a", 80))
	v := L(ctx).Data["hash"].(string)
	assert.Len(t, v, 64)
	assert.True(t, strings.HasSuffix(v, "..."))
}

func TestRootLoggerWithoutContext(t *testing.T) {
	assert.Same(t, rootLogger, L(context.Background()))
}

func TestInitJSON(t *testing.T) {
	Init(config.LogConfig{Level: "debug", Format: "json"})
	defer Init(config.LogConfig{Level: "info"})

	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	L(WithLogField(context.Background(), "caller", "GABC")).Debug("hello")

	assert.True(t, logrus.IsLevelEnabled(logrus.DebugLevel))
	assert.Contains(t, buf.String(), `"caller":"GABC"`)
}
