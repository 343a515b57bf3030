package harness

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// ScenarioFile pairs a loaded scenario with the file it came from.
type ScenarioFile struct {
	Path     string
	Scenario *Scenario
}

// LoadSuite loads every *.yaml scenario under dir, ordered by path. When
// filter is non-empty only scenarios whose name contains it are returned.
// All load errors are reported together.
func LoadSuite(fsys fs.FS, dir, filter string) ([]ScenarioFile, error) {
	var paths []string
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var (
		files []ScenarioFile
		errs  []string
	)
	for _, p := range paths {
		sc, err := LoadScenario(fsys, p)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if filter != "" && !strings.Contains(sc.Name, filter) {
			continue
		}
		files = append(files, ScenarioFile{Path: p, Scenario: sc})
	}
	if len(errs) > 0 {
		return files, fmt.Errorf("%d scenario(s) failed to load:\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return files, nil
}

// SuiteResult aggregates the results of a scenario suite.
type SuiteResult struct {
	Total    int             `json:"total"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Failures []SuiteFailure  `json:"failures,omitempty"`
	Results  map[string]bool `json:"-"`
}

// SuiteFailure is one failed scenario of a suite.
type SuiteFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// Record adds a scenario outcome to the suite result.
func (s *SuiteResult) Record(file ScenarioFile, result *Result, runErr error) {
	if s.Results == nil {
		s.Results = make(map[string]bool)
	}
	s.Total++

	pass := runErr == nil && result != nil && result.Pass
	s.Results[file.Scenario.Name] = pass
	if pass {
		s.Passed++
		return
	}

	s.Failed++
	failure := SuiteFailure{Scenario: file.Scenario.Name, Path: file.Path}
	if result != nil {
		failure.Errors = append(failure.Errors, result.Errors...)
	}
	if runErr != nil {
		failure.Errors = append(failure.Errors, runErr.Error())
	}
	s.Failures = append(s.Failures, failure)
}
