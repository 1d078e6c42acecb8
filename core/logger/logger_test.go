package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	InitLogger(logrus.DebugLevel)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	formatter, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.FullTimestamp)

	InitLogger(logrus.InfoLevel)
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}

func TestContextWithLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	assert.NotNil(t, rlog)
	id := RequestIDFromContext(ctx)
	assert.NotEmpty(t, id)

	// a second call must not replace the logger
	ctx2, _ := ContextWithLogger(ctx)
	assert.Equal(t, id, RequestIDFromContext(ctx2))
}

func TestSerializeRoundtrip(t *testing.T) {
	ctx, _ := ContextWithLoggerIdentity(context.Background(), "alice@example.com")
	data := SerializeLoggerContext(ctx)

	restored := ContextWithLoggerFromData(context.Background(), data)
	assert.Equal(t, RequestIDFromContext(ctx), RequestIDFromContext(restored))
}

func TestFromDataInvalid(t *testing.T) {
	ctx := ContextWithLoggerFromData(context.Background(), []byte("not json"))
	assert.NotEmpty(t, RequestIDFromContext(ctx))
}

func TestFromContextNil(t *testing.T) {
	assert.NotNil(t, FromContext(nil))
}
