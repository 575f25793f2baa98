package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
	assert.Same(t, slog.Default(), FromContext(WithLogger(context.Background(), nil)))
}

func TestWithAddsNodeAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	ctx, logger := With(base, "subject", "sub001")
	logger.Info("direct")
	FromContext(ctx).Info("via context")
	FromContext(base).Info("parent")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if assert.Len(t, lines, 3) {
		assert.Contains(t, string(lines[0]), "subject=sub001")
		assert.Contains(t, string(lines[1]), "subject=sub001")
		assert.NotContains(t, string(lines[2]), "subject=")
	}
}
