package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestFrom_FallsBackToSingleton(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(zap.NewNop()) })

	From(context.Background()).Info("hola", UserID("USR_1"))
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "USR_1", logs.All()[0].ContextMap()["user_id"])
}

func TestFrom_UsesScopedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ToContext(context.Background(), zap.New(core).With(Op("export")))

	From(ctx).Info("done", Count(3))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "export", fields["op"])
	require.EqualValues(t, 3, fields["count"])
}

func TestFromOr_PrefersContextOverFallback(t *testing.T) {
	fbCore, fbLogs := observer.New(zapcore.InfoLevel)
	fallback := zap.New(fbCore)

	FromOr(context.Background(), fallback).Info("sin scope")
	require.Equal(t, 1, fbLogs.Len())

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ToContext(context.Background(), zap.New(core).With(Op("signroll users register")))
	FromOr(ctx, fallback).Info("con scope")
	require.Equal(t, 1, fbLogs.Len())
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "signroll users register", logs.All()[0].ContextMap()["op"])
}
