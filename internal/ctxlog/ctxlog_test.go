package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)
	ctx = With(ctx, "subject", "01", "run", "02")

	FromContext(ctx).Info("fitted")
	assert.Contains(t, buf.String(), "subject=01")
	assert.Contains(t, buf.String(), "run=02")
	assert.Contains(t, buf.String(), "msg=fitted")
}
