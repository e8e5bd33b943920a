package telemetry_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/telemetry"
)

func TestInitTracer_none(t *testing.T) {
	shutdown, err := telemetry.InitTracer("researchd", telemetry.ExporterNone, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInitTracer_unknownExporter(t *testing.T) {
	if _, err := telemetry.InitTracer("researchd", "jaeger", nil, zap.NewNop()); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestInitTracer_stdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := telemetry.InitTracer("researchd", telemetry.ExporterStdout, &buf, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "unit-span") {
		t.Errorf("span not exported: %s", buf.String())
	}
}
