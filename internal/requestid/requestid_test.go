package requestid

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id)
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestEnsure(t *testing.T) {
	ctx := WithRequestID(context.Background(), "keep-me")
	_, id := Ensure(ctx)
	assert.Equal(t, "keep-me", id)

	ctx, id = Ensure(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRequestID(context.Background(), "req-7")
	l := Logger(ctx, zerolog.New(&buf))
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
}
