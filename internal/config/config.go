// Package config loads engine configuration resources.
//
// A configuration resource is a named file inside an fs.FS (the harness's
// equivalent of a classpath). The resource name is the configuration
// identity used by the engine registry. Three formats are accepted, chosen
// by extension:
//
//	*.yaml, *.yml   YAML, unknown fields rejected
//	*.cue           CUE, evaluated then decoded
//	*.xml           legacy XML layout (<engine name="..."><database>...)
//
// Example YAML resource:
//
//	name: default
//	database: ":memory:"
//	history_level: full
//	job_executor:
//	  enabled: false
//	  interval: 1s
package config

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Well-known configuration resource names.
const (
	DefaultResource = "procharness.cfg.yaml"
	LegacyResource  = "legacy.cfg.yaml"
)

// History levels, lowest to highest.
const (
	HistoryNone     = "none"
	HistoryActivity = "activity"
	HistoryAudit    = "audit"
	HistoryFull     = "full"
)

var historyRank = map[string]int{
	HistoryNone:     0,
	HistoryActivity: 1,
	HistoryAudit:    2,
	HistoryFull:     3,
}

// ErrNotFound is matched by errors.Is when a configuration resource does not
// exist in the resource FS.
var ErrNotFound = errors.New("configuration resource not found")

// NotFoundError reports which resource was missing.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("configuration resource %q not found", e.Resource)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a missing configuration resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Config is a resolved engine configuration.
type Config struct {
	// Name is the engine name. Defaults to the resource name.
	Name string `yaml:"name" json:"name"`

	// Database is the SQLite path. Defaults to ":memory:".
	Database string `yaml:"database" json:"database"`

	// HistoryLevel is one of none, activity, audit, full. Defaults to full.
	HistoryLevel string `yaml:"history_level" json:"history_level"`

	// JobExecutor controls the background timer-job executor.
	JobExecutor JobExecutor `yaml:"job_executor" json:"job_executor"`

	// IDs selects the id generator: "uuid" (default) or "sequence".
	IDs string `yaml:"ids" json:"ids"`

	// Resource is the name the configuration was loaded from. Not read
	// from the resource itself.
	Resource string `yaml:"-" json:"-"`
}

// JobExecutor configures background execution of due jobs.
type JobExecutor struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Interval Duration `yaml:"interval" json:"interval"`
}

// HistoryAtLeast reports whether the configured level is at least level.
func (c *Config) HistoryAtLeast(level string) bool {
	return historyRank[c.HistoryLevel] >= historyRank[level]
}

// Load reads and parses the configuration resource name from fsys.
// A missing resource yields a *NotFoundError.
func Load(fsys fs.FS, name string) (*Config, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Resource: name, Err: err}
		}
		return nil, fmt.Errorf("read configuration %q: %w", name, err)
	}

	cfg, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration resource by extension, applies defaults and
// validates the result.
func Parse(name string, data []byte) (*Config, error) {
	var cfg Config
	var err error

	switch ext := path.Ext(name); ext {
	case ".yaml", ".yml":
		err = parseYAML(data, &cfg)
	case ".cue":
		err = parseCUE(name, data, &cfg)
	case ".xml":
		err = parseXML(data, &cfg)
	default:
		err = fmt.Errorf("unsupported configuration format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse configuration %q: %w", name, err)
	}

	cfg.Resource = name
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %q: %w", name, err)
	}
	return &cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseCUE(name string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return err
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return v.Decode(cfg)
}

type xmlEngine struct {
	XMLName      xml.Name `xml:"engine"`
	Name         string   `xml:"name,attr"`
	Database     string   `xml:"database"`
	HistoryLevel string   `xml:"historyLevel"`
	IDs          string   `xml:"ids"`
	JobExecutor  struct {
		Enabled  bool   `xml:"enabled,attr"`
		Interval string `xml:"interval,attr"`
	} `xml:"jobExecutor"`
}

func parseXML(data []byte, cfg *Config) error {
	var doc xmlEngine
	if err := xml.Unmarshal(data, &doc); err != nil {
		return err
	}
	cfg.Name = doc.Name
	cfg.Database = doc.Database
	cfg.HistoryLevel = doc.HistoryLevel
	cfg.IDs = doc.IDs
	cfg.JobExecutor.Enabled = doc.JobExecutor.Enabled
	if doc.JobExecutor.Interval != "" {
		if err := cfg.JobExecutor.Interval.set(doc.JobExecutor.Interval); err != nil {
			return fmt.Errorf("jobExecutor interval: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = c.Resource
	}
	if c.Database == "" {
		c.Database = ":memory:"
	}
	if c.HistoryLevel == "" {
		c.HistoryLevel = HistoryFull
	}
	if c.IDs == "" {
		c.IDs = "uuid"
	}
	if c.JobExecutor.Enabled && c.JobExecutor.Interval == 0 {
		c.JobExecutor.Interval = Duration(time.Second)
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, ok := historyRank[c.HistoryLevel]; !ok {
		return fmt.Errorf("unknown history level %q", c.HistoryLevel)
	}
	if c.IDs != "uuid" && c.IDs != "sequence" {
		return fmt.Errorf("unknown id generator %q (want uuid or sequence)", c.IDs)
	}
	if c.JobExecutor.Interval < 0 {
		return fmt.Errorf("job executor interval must be positive")
	}
	return nil
}
