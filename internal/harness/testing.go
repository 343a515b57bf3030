package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/procharness/internal/deployment"
	"github.com/roach88/procharness/internal/session"
)

// Start begins a session for the running test and registers its teardown
// with t.Cleanup. The test fails if the session cannot begin or if
// teardown fails. The session stays leased until cleanup, so a subtest
// starting on the same session fails with clock.ErrLeased.
func Start(t testing.TB, sess *session.Session, id deployment.TestIdentity) *session.Context {
	t.Helper()

	tc, err := sess.Begin(context.Background(), id)
	require.NoError(t, err, "begin %s", id)

	t.Cleanup(func() {
		if err := tc.End(); err != nil {
			t.Errorf("teardown %s: %v", id, err)
		}
	})
	return tc
}

// AssertProcessEnded fails the test unless the process instance has ended.
func AssertProcessEnded(t testing.TB, tc *session.Context, processInstanceID string) {
	t.Helper()
	require.NoError(t, tc.AssertProcessEnded(processInstanceID))
}
