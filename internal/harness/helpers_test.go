package harness

import (
	"os"
	"testing"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/registry"
	"github.com/roach88/procharness/internal/testutil"
)

// newTestRunner builds a runner over testdata with one in-memory engine.
func newTestRunner(t *testing.T, opts ...RunnerOption) (*Runner, *registry.Registry, *clock.Virtual) {
	t.Helper()

	vc := clock.NewVirtual(nil)
	reg := testutil.NewRegistry(t, vc, testutil.Configs())
	return NewRunner(reg, os.DirFS("testdata"), vc, opts...), reg, vc
}

func intPtr(n int) *int { return &n }
