// Package deployment provisions a test's process resources as one engine
// deployment and cascade-deletes it when the test ends.
//
// A Scope pairs a resource file system with a Resolver that maps a
// TestIdentity to resource paths. Open deploys them atomically; Close
// removes the deployment with everything it produced.
package deployment

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sync"
)

// Repository is the slice of an engine's repository service a Scope needs.
type Repository interface {
	Deploy(ctx context.Context, name string, resources map[string][]byte) (string, error)
	DeleteDeploymentCascade(ctx context.Context, deploymentID string, cascade bool) error
}

// Record is one provisioned deployment. It is owned by the test that
// opened it.
type Record struct {
	DeploymentID string
	Resources    []string
	TestID       TestIdentity

	repo Repository

	mu     sync.Mutex
	closed bool
}

// DeploymentError reports a failure to provision a test's resources. The
// test body must not run.
type DeploymentError struct {
	TestID    TestIdentity
	Resources []string
	Err       error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deploy resources for %s: %v", e.TestID, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// CascadeDeleteError reports a failure to remove a test's deployment.
type CascadeDeleteError struct {
	DeploymentID string
	TestID       TestIdentity
	Err          error
}

func (e *CascadeDeleteError) Error() string {
	return fmt.Sprintf("cascade delete deployment %s of %s: %v", e.DeploymentID, e.TestID, e.Err)
}

func (e *CascadeDeleteError) Unwrap() error {
	return e.Err
}

// Scope opens and closes per-test deployments.
type Scope struct {
	fsys     fs.FS
	resolver Resolver
	logger   *slog.Logger
}

// Option configures a Scope.
type Option func(*Scope)

// WithLogger sets the logger. Default: a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scope) {
		s.logger = l
	}
}

// NewScope creates a Scope reading resources from fsys.
func NewScope(fsys fs.FS, resolver Resolver, opts ...Option) *Scope {
	s := &Scope{
		fsys:     fsys,
		resolver: resolver,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open deploys the resources id declares as one deployment named after id.
// It returns nil, nil without calling repo when id declares none.
func (s *Scope) Open(ctx context.Context, repo Repository, id TestIdentity) (*Record, error) {
	paths, err := s.resolver.ResolveDeploymentResources(id)
	if err != nil {
		return nil, &DeploymentError{TestID: id, Err: err}
	}
	if len(paths) == 0 {
		s.logger.Debug("no deployment resources", "test", id.String())
		return nil, nil
	}
	paths = dedupe(paths)

	resources := make(map[string][]byte, len(paths))
	for _, p := range paths {
		content, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			return nil, &DeploymentError{TestID: id, Resources: paths, Err: fmt.Errorf("read resource %s: %w", p, err)}
		}
		name := path.Base(p)
		if _, dup := resources[name]; dup {
			return nil, &DeploymentError{TestID: id, Resources: paths, Err: fmt.Errorf("two resources named %s", name)}
		}
		resources[name] = content
	}

	deploymentID, err := repo.Deploy(ctx, id.String(), resources)
	if err != nil {
		return nil, &DeploymentError{TestID: id, Resources: paths, Err: err}
	}

	s.logger.Info("deployment opened",
		"test", id.String(),
		"deployment_id", deploymentID,
		"resources", len(paths),
	)
	return &Record{
		DeploymentID: deploymentID,
		Resources:    paths,
		TestID:       id,
		repo:         repo,
	}, nil
}

// Close cascade-deletes rec's deployment. A nil record is a no-op, and a
// record is deleted at most once; a failed delete may be retried.
func (s *Scope) Close(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return nil
	}

	if err := rec.repo.DeleteDeploymentCascade(ctx, rec.DeploymentID, true); err != nil {
		s.logger.Error("cascade delete failed",
			"test", rec.TestID.String(),
			"deployment_id", rec.DeploymentID,
			"error", err,
		)
		return &CascadeDeleteError{DeploymentID: rec.DeploymentID, TestID: rec.TestID, Err: err}
	}
	rec.closed = true

	s.logger.Info("deployment closed", "test", rec.TestID.String(), "deployment_id", rec.DeploymentID)
	return nil
}
