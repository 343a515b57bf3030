// Package testutil holds fixtures shared by package tests: a virtual clock
// over a clockwork fake and an engine registry over in-memory configs.
package testutil

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/engine"
	"github.com/roach88/procharness/internal/registry"
)

// Epoch is the base time of fake clocks.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// MemoryConfig is an engine configuration with an in-memory database and
// sequence ids.
const MemoryConfig = "database: \":memory:\"\nids: sequence\n"

// FakeClock returns a Virtual over a clockwork fake starting at Epoch, and
// a function that moves the fake base clock. Any override left behind by
// the test is cleared on cleanup.
func FakeClock(t testing.TB) (vc *clock.Virtual, advance func(time.Duration)) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(Epoch)
	vc = clock.NewVirtual(fake)
	t.Cleanup(vc.Reset)
	return vc, fake.Advance
}

// Configs returns a config FS holding MemoryConfig under each name, or
// under config.DefaultResource when no names are given.
func Configs(names ...string) fstest.MapFS {
	if len(names) == 0 {
		names = []string{config.DefaultResource}
	}
	fsys := fstest.MapFS{}
	for _, name := range names {
		fsys[name] = &fstest.MapFile{Data: []byte(MemoryConfig)}
	}
	return fsys
}

// NewRegistry returns a registry whose engines read vc and load their
// configuration from configs. Every engine is closed on cleanup.
func NewRegistry(t testing.TB, vc *clock.Virtual, configs fstest.MapFS) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.ConfigBuilder(configs, engine.WithClock(vc)))
	t.Cleanup(func() {
		if err := reg.CloseAll(); err != nil {
			t.Errorf("close engines: %v", err)
		}
	})
	return reg
}
