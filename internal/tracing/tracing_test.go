package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/tabtree/internal/command"
	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/processor"
)

func recorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp
}

func handlerReturning(res *command.CommandResult, err error) processor.CommandHandler {
	return processor.HandlerFunc(func(context.Context, command.Command) (*command.CommandResult, error) {
		return res, err
	})
}

func TestMiddleware_RecordsHostEventSpan(t *testing.T) {
	rec, tp := recorder(t)
	mw := NewMiddleware(tp.Tracer("test"))

	cmd := command.NewHostEventCommand(host.Event{Kind: host.EventMoved, TabID: 7, WindowID: 2})
	_, err := mw(handlerReturning(&command.CommandResult{Success: true}, nil)).Handle(context.Background(), cmd)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "command.process.host_event", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "moved", attrs[AttrHostEventKind])
	assert.Equal(t, int64(7), attrs[AttrHostTabID])
	assert.Equal(t, cmd.ID(), attrs[AttrCommandID])
	assert.Equal(t, span.SpanContext().TraceID().String(), cmd.TraceID(), "command carries the span's trace id")
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		res  *command.CommandResult
		err  error
		desc string
	}{
		{"handler error", nil, errors.New("boom"), "boom"},
		{"failed result", &command.CommandResult{Error: errors.New("nope")}, nil, "nope"},
		{"failed without detail", &command.CommandResult{}, nil, "command failed without error details"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, tp := recorder(t)
			mw := NewMiddleware(tp.Tracer("test"))
			_, _ = mw(handlerReturning(tt.res, tt.err)).Handle(context.Background(), command.NewAutoSaveCommand())

			spans := rec.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, codes.Error, spans[0].Status().Code)
			assert.Equal(t, tt.desc, spans[0].Status().Description)
		})
	}
}

func TestMiddleware_FollowUpsBecomeChildren(t *testing.T) {
	rec, tp := recorder(t)
	mw := NewMiddleware(tp.Tracer("test"))

	followUp := command.NewAutoSaveCommand()
	parent := command.NewRPCCommand([]byte(`{"type":"SYNC_TABS"}`))
	h := mw(handlerReturning(&command.CommandResult{Success: true, FollowUp: []command.Command{followUp}}, nil))
	_, err := h.Handle(context.Background(), parent)
	require.NoError(t, err)

	_, err = mw(handlerReturning(&command.CommandResult{Success: true}, nil)).Handle(context.Background(), followUp)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, EventFollowUpCreated, spans[0].Events()[0].Name)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Equal(t, spans[0].SpanContext().SpanID(), spans[1].Parent().SpanID())
}

func TestMiddleware_NilTracerPassesThrough(t *testing.T) {
	called := false
	h := NewMiddleware(nil)(processor.HandlerFunc(func(context.Context, command.Command) (*command.CommandResult, error) {
		called = true
		return &command.CommandResult{Success: true}, nil
	}))
	_, err := h.Handle(context.Background(), command.NewAutoSaveCommand())
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewProvider(t *testing.T) {
	t.Run("disabled is noop", func(t *testing.T) {
		p, err := NewProvider(Config{})
		require.NoError(t, err)
		assert.False(t, p.Enabled())
		assert.NotNil(t, p.Tracer())
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("none exporter", func(t *testing.T) {
		p, err := NewProvider(Config{Enabled: true, Exporter: "none"})
		require.NoError(t, err)
		assert.True(t, p.Enabled())
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("file exporter requires path", func(t *testing.T) {
		_, err := NewProvider(Config{Enabled: true, Exporter: "file"})
		require.Error(t, err)
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := NewProvider(Config{Enabled: true, Exporter: "zipkin"})
		require.Error(t, err)
	})

	t.Run("file exporter writes spans on shutdown", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "traces", "traces.jsonl")
		p, err := NewProvider(Config{Enabled: true, Exporter: "file", FilePath: path})
		require.NoError(t, err)

		_, span := p.Tracer().Start(context.Background(), "command.process.rpc")
		span.End()
		require.NoError(t, p.Shutdown(context.Background()))

		records := readRecords(t, path)
		require.Len(t, records, 1)
		assert.Equal(t, "command.process.rpc", records[0].Name)
		assert.Equal(t, "UNSET", records[0].Status)
	})
}

func TestFileExporter_AppendsAndIgnoresAfterShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"existing"}`+"\n"), 0o600))

	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	stubs := tracetest.SpanStubs{{Name: "a"}, {Name: "b"}}
	require.NoError(t, exp.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exp.Shutdown(context.Background()))

	records := readRecords(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"existing", "a", "b"}, []string{records[0].Name, records[1].Name, records[2].Name})
}

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []SpanRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}
