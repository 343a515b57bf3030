package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/procharness/internal/process"
	"github.com/roach88/procharness/internal/store"
)

// RepositoryService manages deployments and process definitions.
type RepositoryService struct {
	e *Engine
}

// Deploy installs resources as one deployment and returns its id.
//
// Resource names are NFC-normalised. Resources recognised by
// process.IsDefinition are parsed and registered as new definition
// versions; all others are stored verbatim. Deployment is atomic: if any
// resource is malformed nothing is installed and an INVALID_RESOURCE error
// is returned.
func (r *RepositoryService) Deploy(ctx context.Context, name string, resources map[string][]byte) (string, error) {
	e := r.e
	if len(resources) == 0 {
		return "", invalidResource("", fmt.Errorf("deployment %q has no resources", name))
	}

	normalized := make(map[string][]byte, len(resources))
	for resName, content := range resources {
		n := norm.NFC.String(resName)
		if _, dup := normalized[n]; dup {
			return "", invalidResource(resName, fmt.Errorf("duplicate resource name after normalisation"))
		}
		normalized[n] = content
	}
	names := make([]string, 0, len(normalized))
	for n := range normalized {
		names = append(names, n)
	}
	sort.Strings(names)

	// Parse before touching the store so a bad resource leaves no trace.
	defs := make(map[string]*process.Definition)
	keys := make(map[string]string)
	for _, n := range names {
		if !process.IsDefinition(n) {
			continue
		}
		def, err := process.Parse(n, normalized[n])
		if err != nil {
			return "", invalidResource(n, err)
		}
		if other, dup := keys[def.Key]; dup {
			return "", invalidResource(n, fmt.Errorf("definition key %q also declared by %s", def.Key, other))
		}
		keys[def.Key] = n
		defs[n] = def
	}

	deploymentID := e.ids.Generate()
	err := e.command(ctx, func(tx *store.Tx) error {
		if err := tx.InsertDeployment(ctx, store.Deployment{
			ID:         deploymentID,
			Name:       name,
			DeployedAt: e.clock.Now(),
		}); err != nil {
			return err
		}
		for _, n := range names {
			if err := tx.InsertResource(ctx, store.Resource{
				DeploymentID: deploymentID,
				Name:         n,
				Content:      normalized[n],
			}); err != nil {
				return err
			}
			def, ok := defs[n]
			if !ok {
				continue
			}
			version, err := tx.NextDefinitionVersion(ctx, def.Key)
			if err != nil {
				return err
			}
			if err := tx.InsertDefinition(ctx, store.ProcessDefinition{
				ID:           e.ids.Generate(),
				Key:          def.Key,
				Name:         def.Name,
				Version:      version,
				DeploymentID: deploymentID,
				ResourceName: n,
				StartFormKey: def.StartFormKey,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("deploy %q: %w", name, err)
	}

	e.logger.Info("deployment created",
		"engine", e.name,
		"deployment_id", deploymentID,
		"name", name,
		"resources", len(names),
		"definitions", len(defs),
	)
	return deploymentID, nil
}

// DeleteDeploymentCascade deletes a deployment. With cascade, running
// instances of its definitions are removed too; without, the call fails
// with ILLEGAL_STATE while any exist. History of the deployment is removed
// in both cases. Unknown ids yield NOT_FOUND.
func (r *RepositoryService) DeleteDeploymentCascade(ctx context.Context, deploymentID string, cascade bool) error {
	e := r.e
	err := e.command(ctx, func(tx *store.Tx) error {
		if !cascade {
			n, err := tx.CountExecutionsByDeployment(ctx, deploymentID)
			if err != nil {
				return err
			}
			if n > 0 {
				return illegalState("deployment %s still has %d running process instances", deploymentID, n)
			}
		}
		deleted, err := tx.DeleteDeployment(ctx, deploymentID)
		if err != nil {
			return err
		}
		if !deleted {
			return notFound(fmt.Errorf("deployment %s: %w", deploymentID, store.ErrNotFound))
		}
		// Definition ids are never reused; dropping the whole cache is simplest.
		e.defs = make(map[string]*process.Definition)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete deployment %s: %w", deploymentID, err)
	}

	e.logger.Info("deployment deleted",
		"engine", e.name,
		"deployment_id", deploymentID,
		"cascade", cascade,
	)
	return nil
}

// Deployment returns a deployment with its resource names.
func (r *RepositoryService) Deployment(ctx context.Context, id string) (*Deployment, error) {
	var out *Deployment
	err := r.e.query(ctx, func(tx *store.Tx) error {
		d, err := tx.Deployment(ctx, id)
		if err != nil {
			return wrapNotFound(err)
		}
		names, err := tx.ResourceNames(ctx, id)
		if err != nil {
			return err
		}
		out = &Deployment{ID: d.ID, Name: d.Name, DeployedAt: d.DeployedAt, Resources: names}
		return nil
	})
	return out, err
}

// Deployments lists deployments in deployment order.
func (r *RepositoryService) Deployments(ctx context.Context) ([]Deployment, error) {
	var out []Deployment
	err := r.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.Deployments(ctx)
		if err != nil {
			return err
		}
		for _, d := range rows {
			names, err := tx.ResourceNames(ctx, d.ID)
			if err != nil {
				return err
			}
			out = append(out, Deployment{ID: d.ID, Name: d.Name, DeployedAt: d.DeployedAt, Resources: names})
		}
		return nil
	})
	return out, err
}

// Resource returns the raw content of a deployment resource.
func (r *RepositoryService) Resource(ctx context.Context, deploymentID, name string) ([]byte, error) {
	var content []byte
	err := r.e.query(ctx, func(tx *store.Tx) error {
		res, err := tx.Resource(ctx, deploymentID, norm.NFC.String(name))
		if err != nil {
			return wrapNotFound(err)
		}
		content = res.Content
		return nil
	})
	return content, err
}

// ProcessDefinitions lists all definitions ordered by key and version.
func (r *RepositoryService) ProcessDefinitions(ctx context.Context) ([]ProcessDefinition, error) {
	var out []ProcessDefinition
	err := r.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.Definitions(ctx)
		if err != nil {
			return err
		}
		for _, d := range rows {
			out = append(out, toDefinition(d))
		}
		return nil
	})
	return out, err
}

// LatestProcessDefinition returns the newest version deployed for key.
func (r *RepositoryService) LatestProcessDefinition(ctx context.Context, key string) (*ProcessDefinition, error) {
	var out *ProcessDefinition
	err := r.e.query(ctx, func(tx *store.Tx) error {
		d, err := tx.LatestDefinition(ctx, key)
		if err != nil {
			return wrapNotFound(err)
		}
		pd := toDefinition(*d)
		out = &pd
		return nil
	})
	return out, err
}

func toDefinition(d store.ProcessDefinition) ProcessDefinition {
	return ProcessDefinition{
		ID:           d.ID,
		Key:          d.Key,
		Name:         d.Name,
		Version:      d.Version,
		DeploymentID: d.DeploymentID,
		ResourceName: d.ResourceName,
		StartFormKey: d.StartFormKey,
	}
}
