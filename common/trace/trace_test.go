package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/relay/common/trace"
)

func TestGenerateID(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Error("ids should be unique")
	}
	if !strings.HasPrefix(a, "t_") || len(a) != 34 {
		t.Errorf("unexpected id %q", a)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if trace.FromContext(ctx) != "" {
		t.Error("empty context should have no trace id")
	}
	ctx = trace.WithTraceID(ctx, "t_x")
	if trace.FromContext(ctx) != "t_x" {
		t.Errorf("got %q", trace.FromContext(ctx))
	}
	if trace.Logger(ctx) == nil {
		t.Error("Logger must not be nil")
	}
}
