package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestChildSpansAttachToParent(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "graphql", "req-1")
	_, gene := StartChildSpan(ctx, "Query.gene")
	_, search := StartChildSpan(ctx, "Query.gene_search")
	gene.End()
	search.End()
	root.End()

	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}
	if gene.TraceID != "req-1" {
		t.Errorf("expected child to inherit trace id, got %q", gene.TraceID)
	}
}

func TestLogIfSlow(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, root := StartSpan(context.Background(), "graphql", "req-2")
	_, child := StartChildSpan(ctx, "Gene.clinvar_variants")
	child.SetAttr("path", "/GRCh38/gene/ENSG1/clinvar_variants/")
	child.End()
	root.End()

	if root.LogIfSlow(l, time.Hour) {
		t.Fatal("fast request must not be logged")
	}
	if root.LogIfSlow(l, 0) {
		t.Fatal("zero threshold disables logging")
	}
	root.Duration = 2 * time.Second
	if !root.LogIfSlow(l, time.Second) {
		t.Fatal("expected slow request to be logged")
	}
	out := buf.String()
	for _, want := range []string{"slow query", "Gene.clinvar_variants", "depth=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %q:\n%s", want, out)
		}
	}
}
