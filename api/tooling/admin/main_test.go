package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/jcpaschoal/volauth/api/tooling/admin/commands"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeDeps struct {
	builds int
	closed int
	out    bytes.Buffer
}

func (f *fakeDeps) build(ctx context.Context, log *logger.Logger, cfg Config) (commands.Deps, trace.Tracer, func(), error) {
	f.builds++

	d := commands.Deps{
		Log: log,
		Out: &f.out,
	}

	return d, noop.NewTracerProvider().Tracer(""), func() { f.closed++ }, nil
}

func execute(t *testing.T, f *fakeDeps, args ...string) error {
	t.Helper()

	root, closeDeps := newRoot(logger.Discard(), Config{}, f.build)
	defer closeDeps()

	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	return root.ExecuteContext(context.Background())
}

func Test_Root(t *testing.T) {
	t.Run("failed-command", func(t *testing.T) {
		var f fakeDeps

		if err := execute(t, &f, "authorize", "not-a-uuid", "datastore1", "attach"); err == nil {
			t.Fatalf("Should fail on a bad vm id")
		}

		if f.builds != 1 || f.closed != 1 {
			t.Fatalf("Should release the dependencies after a failed command: builds[%d] closed[%d]", f.builds, f.closed)
		}
	})

	t.Run("no-deps", func(t *testing.T) {
		var f fakeDeps

		if err := execute(t, &f, "version"); err != nil {
			t.Fatalf("Should print the version: %s", err)
		}

		if f.builds != 0 || f.closed != 0 {
			t.Fatalf("Should not build dependencies for version: builds[%d] closed[%d]", f.builds, f.closed)
		}
	})
}
