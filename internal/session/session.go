// Package session runs a single test against a cached engine with a
// per-test deployment and a pinned clock, and always tears both down.
//
// Lifecycle of one test:
//
//	INIT -> ENGINE_READY -> DEPLOYED (optional) -> RUNNING -> TEARDOWN -> DONE
//
// Begin resolves the engine through the registry's fallback chain, opens
// the deployment scope and returns a Context in RUNNING. End closes the
// scope, resets the clock and releases it. Run wraps both around a body so
// teardown happens on every exit path, panics included.
//
// The session holds the clock's lease from INIT to DONE, so sessions that
// share one clock.Virtual run one after another rather than with
// conflicting overrides. Begin waits at most the lease wait for the clock
// and then fails with clock.ErrLeased, which is what a nested test on the
// same clock gets instead of a hang.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/deployment"
	"github.com/roach88/procharness/internal/engine"
	"github.com/roach88/procharness/internal/registry"
)

// State is a step of the per-test lifecycle.
type State int

const (
	StateInit State = iota
	StateEngineReady
	StateDeployed
	StateRunning
	StateTeardown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEngineReady:
		return "ENGINE_READY"
	case StateDeployed:
		return "DEPLOYED"
	case StateRunning:
		return "RUNNING"
	case StateTeardown:
		return "TEARDOWN"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultLeaseWait is how long Begin waits for another test to release
// the clock.
const DefaultLeaseWait = time.Minute

// ErrNotRunning is returned by Context operations only valid while the
// test body runs.
var ErrNotRunning = errors.New("session is not running")

// ErrProcessNotEnded is matched by AssertProcessEnded failures.
var ErrProcessNotEnded = errors.New("process instance has not ended")

// Session provisions tests. One Session is typically shared by a whole
// test run; its registry outlives every test.
type Session struct {
	registry  *registry.Registry
	scope     *deployment.Scope
	clock     *clock.Virtual
	configIDs []string
	leaseWait time.Duration
	logger    *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithConfigResources sets the configuration identities tried in order.
// Default: config.DefaultResource, then config.LegacyResource.
func WithConfigResources(ids ...string) Option {
	return func(s *Session) {
		s.configIDs = append([]string(nil), ids...)
	}
}

// WithLeaseWait bounds how long Begin waits for the clock. Zero fails at
// once when it is taken. Default: DefaultLeaseWait.
func WithLeaseWait(d time.Duration) Option {
	return func(s *Session) {
		s.leaseWait = d
	}
}

// WithLogger sets the logger. Default: a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// New creates a Session. A nil clk means clock.Default(); engines built by
// reg should read the same clock.
func New(reg *registry.Registry, scope *deployment.Scope, clk *clock.Virtual, opts ...Option) *Session {
	if clk == nil {
		clk = clock.Default()
	}
	s := &Session{
		registry:  reg,
		scope:     scope,
		clock:     clk,
		configIDs: []string{config.DefaultResource, config.LegacyResource},
		leaseWait: DefaultLeaseWait,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the clock the session pins.
func (s *Session) Clock() *clock.Virtual { return s.clock }

// Registry returns the engine registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Begin provisions test id and returns its Context in RUNNING. On error
// nothing is left behind: the clock is reset and released. If another test
// keeps the clock past the lease wait, the error matches clock.ErrLeased
// and the other test's override is left alone.
func (s *Session) Begin(ctx context.Context, id deployment.TestIdentity) (*Context, error) {
	release, err := s.clock.Lease(ctx, s.leaseWait)
	if err != nil {
		s.logger.Error("clock unavailable", "test", id.String(), "error", err)
		return nil, fmt.Errorf("begin %s: %w", id, err)
	}
	tc := &Context{
		ctx:     ctx,
		session: s,
		id:      id,
		release: release,
		state:   StateInit,
	}

	h, err := s.registry.ResolveFallback(ctx, s.configIDs...)
	if err != nil {
		s.abort(release)
		return nil, fmt.Errorf("begin %s: %w", id, err)
	}
	tc.handle = h
	tc.setState(StateEngineReady)

	rec, err := s.scope.Open(ctx, h.Repository(), id)
	if err != nil {
		s.abort(release)
		return nil, fmt.Errorf("begin %s: %w", id, err)
	}
	if rec != nil {
		tc.record = rec
		tc.setState(StateDeployed)
	}
	tc.setState(StateRunning)

	s.logger.Debug("test started",
		"test", id.String(),
		"config", h.ConfigID(),
		"deployment_id", tc.DeploymentID(),
	)
	return tc, nil
}

func (s *Session) abort(release func()) {
	s.clock.Reset()
	release()
}

// Run executes body between Begin and End. A body error or panic is the
// primary failure; a teardown error is appended to it, never substituted.
// Teardown also runs when body exits its goroutine (t.FailNow).
func (s *Session) Run(ctx context.Context, id deployment.TestIdentity, body func(*Context) error) (err error) {
	tc, err := s.Begin(ctx, id)
	if err != nil {
		return err
	}

	var bodyErr error
	defer func() {
		teardownErr := tc.End()
		switch {
		case bodyErr != nil:
			err = &Failure{TestID: id, Body: bodyErr, Teardown: teardownErr}
		case teardownErr != nil:
			err = teardownErr
		}
	}()

	bodyErr = runBody(tc, body)
	return nil
}

func runBody(tc *Context, body func(*Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return body(tc)
}

// Context is one running test. It exposes the engine services to the
// test body.
type Context struct {
	ctx     context.Context
	session *Session
	id      deployment.TestIdentity
	handle  *registry.Handle
	record  *deployment.Record
	release func()

	mu    sync.Mutex
	state State // guarded by mu

	endOnce sync.Once
	endErr  error
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Context returns the context the test was begun with.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) TestID() deployment.TestIdentity { return c.id }
func (c *Context) Handle() *registry.Handle        { return c.handle }

// DeploymentID is the id of the test's deployment, or "" when the test
// declared no resources.
func (c *Context) DeploymentID() string {
	if c.record == nil {
		return ""
	}
	return c.record.DeploymentID
}

func (c *Context) Repository() *engine.RepositoryService { return c.handle.Repository() }
func (c *Context) Runtime() *engine.RuntimeService       { return c.handle.Runtime() }
func (c *Context) Tasks() *engine.TaskService            { return c.handle.Tasks() }
func (c *Context) History() *engine.HistoryService       { return c.handle.History() }
func (c *Context) Identity() *engine.IdentityService     { return c.handle.Identity() }
func (c *Context) Management() *engine.ManagementService { return c.handle.Management() }
func (c *Context) Forms() *engine.FormService            { return c.handle.Forms() }

// Now returns the session clock's time.
func (c *Context) Now() time.Time {
	return c.session.clock.Now()
}

// SetCurrentTime pins the clock to t. Only valid while RUNNING.
func (c *Context) SetCurrentTime(t time.Time) error {
	if c.State() != StateRunning {
		return fmt.Errorf("set current time: %w", ErrNotRunning)
	}
	c.session.clock.SetCurrentTime(t)
	return nil
}

// Advance moves the pinned time forward by d. Only valid while RUNNING.
func (c *Context) Advance(d time.Duration) (time.Time, error) {
	if c.State() != StateRunning {
		return time.Time{}, fmt.Errorf("advance clock: %w", ErrNotRunning)
	}
	return c.session.clock.Advance(d), nil
}

// AssertProcessEnded returns an error matching ErrProcessNotEnded if the
// process instance is still active.
func (c *Context) AssertProcessEnded(processInstanceID string) error {
	active, err := c.Runtime().IsActive(c.ctx, processInstanceID)
	if err != nil {
		return fmt.Errorf("assert process ended: %w", err)
	}
	if active {
		return fmt.Errorf("process instance %s: %w", processInstanceID, ErrProcessNotEnded)
	}
	return nil
}

// End tears the test down: the deployment is cascade-deleted, then the
// clock is reset and released. The reset and release happen even when the
// delete fails. Only the first call does any work.
func (c *Context) End() error {
	c.endOnce.Do(func() {
		c.setState(StateTeardown)
		ctx := context.WithoutCancel(c.ctx)

		if err := c.session.scope.Close(ctx, c.record); err != nil {
			c.endErr = &TeardownError{TestID: c.id, Err: err}
		}
		c.session.clock.Reset()
		c.release()

		c.setState(StateDone)
		c.session.logger.Debug("test finished", "test", c.id.String(), "teardown_error", c.endErr)
	})
	return c.endErr
}
