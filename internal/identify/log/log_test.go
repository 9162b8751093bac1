package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	charmlog "github.com/charmbracelet/log"
)

func TestSetupRoutesSlog(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		current.Store(nil)
	})

	var buf bytes.Buffer
	lg := charmlog.New(&buf)
	lg.SetLevel(charmlog.DebugLevel)
	Setup(lg)

	if current.Load() == nil {
		t.Fatal("no logger recorded after Setup")
	}
	slog.Debug("Built graph", "nodes", 3)
	if out := buf.String(); !strings.Contains(out, "Built graph") || !strings.Contains(out, "nodes=3") {
		t.Errorf("slog output not routed to the charm logger: %q", out)
	}
}

func TestRecoverInput(t *testing.T) {
	tests := []struct {
		name    string
		fn      func()
		wantErr string
	}{
		{name: "no panic", fn: func() {}},
		{name: "panic", fn: func() { panic("index out of range") }, wantErr: "a.out: panic: index out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := func() (err error) {
				defer RecoverInput("a.out", &err)
				tt.fn()
				return nil
			}()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecoverPanicRunsCleanup(t *testing.T) {
	cleaned := false
	func() {
		defer RecoverPanic("worker", func() { cleaned = true })
		panic(errors.New("boom"))
	}()
	if !cleaned {
		t.Error("cleanup did not run")
	}
}
