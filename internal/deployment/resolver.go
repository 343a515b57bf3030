package deployment

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// TestIdentity names one test: Class groups tests (a suite, a test file),
// Method names the test itself.
type TestIdentity struct {
	Class  string `yaml:"class" json:"class"`
	Method string `yaml:"method" json:"method"`
}

// String returns "Class.Method", or Class alone when Method is empty.
func (id TestIdentity) String() string {
	if id.Method == "" {
		return id.Class
	}
	return id.Class + "." + id.Method
}

// Resolver finds the deployment resources a test declares. An empty result
// means the test needs no deployment.
type Resolver interface {
	ResolveDeploymentResources(id TestIdentity) ([]string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id TestIdentity) ([]string, error)

func (f ResolverFunc) ResolveDeploymentResources(id TestIdentity) ([]string, error) {
	return f(id)
}

// Registrations is a code-based Resolver. Method-level registrations take
// precedence over class-level ones.
//
// Thread-safety: safe for concurrent use.
type Registrations struct {
	mu      sync.RWMutex
	classes map[string][]string
	methods map[TestIdentity][]string
}

// NewRegistrations creates an empty registration table.
func NewRegistrations() *Registrations {
	return &Registrations{
		classes: make(map[string][]string),
		methods: make(map[TestIdentity][]string),
	}
}

// Class registers resources for every test of class.
func (r *Registrations) Class(class string, resources ...string) *Registrations {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[class] = append([]string(nil), resources...)
	return r
}

// Method registers resources for one test.
func (r *Registrations) Method(class, method string, resources ...string) *Registrations {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[TestIdentity{Class: class, Method: method}] = append([]string(nil), resources...)
	return r
}

func (r *Registrations) ResolveDeploymentResources(id TestIdentity) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if res, ok := r.methods[id]; ok {
		return append([]string(nil), res...), nil
	}
	return append([]string(nil), r.classes[id.Class]...), nil
}

// Manifest is a declarative Resolver loaded from YAML:
//
//	classes:
//	  InvoiceTest:
//	    resources: [invoice.process.yaml]
//	    methods:
//	      TestEscalation: [invoice.process.yaml, escalation.process.yaml]
//	      TestNoDeployment: []
//
// A method entry, even an empty one, replaces the class resources.
type Manifest struct {
	Classes map[string]ManifestClass `yaml:"classes"`
}

// ManifestClass lists the resources of one class and its method overrides.
type ManifestClass struct {
	Resources []string            `yaml:"resources"`
	Methods   map[string][]string `yaml:"methods"`
}

// LoadManifest reads a manifest from fsys. Unknown fields are rejected.
func LoadManifest(fsys fs.FS, name string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read deployment manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse deployment manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) ResolveDeploymentResources(id TestIdentity) ([]string, error) {
	class, ok := m.Classes[id.Class]
	if !ok {
		return nil, nil
	}
	if res, ok := class.Methods[id.Method]; ok {
		return append([]string(nil), res...), nil
	}
	return append([]string(nil), class.Resources...), nil
}

// Convention resolves by resource naming: "<Class>.<Method>.process.yaml"
// if it exists in FS, else "<Class>.process.yaml" if that exists, else
// nothing.
type Convention struct {
	FS fs.FS

	// Dir is prepended to the conventional names. Optional.
	Dir string
}

func (c Convention) ResolveDeploymentResources(id TestIdentity) ([]string, error) {
	candidates := []string{id.Class + ".process.yaml"}
	if id.Method != "" {
		candidates = append([]string{id.Class + "." + id.Method + ".process.yaml"}, candidates...)
	}
	for _, name := range candidates {
		if c.Dir != "" {
			name = strings.TrimSuffix(c.Dir, "/") + "/" + name
		}
		_, err := fs.Stat(c.FS, name)
		if err == nil {
			return []string{name}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("convention lookup %s: %w", name, err)
		}
	}
	return nil, nil
}

// Chain tries resolvers in order and returns the first non-empty answer.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(id TestIdentity) ([]string, error) {
		for _, r := range resolvers {
			res, err := r.ResolveDeploymentResources(id)
			if err != nil {
				return nil, err
			}
			if len(res) > 0 {
				return res, nil
			}
		}
		return nil, nil
	})
}

// dedupe returns the distinct paths, sorted.
func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
