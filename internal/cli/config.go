package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nwalden/mailscan/pkg/scan"
	"github.com/nwalden/mailscan/pkg/senderdb"
	"github.com/nwalden/mailscan/pkg/source/s3mail"
)

// FileConfig is the optional YAML configuration file. Flags override it;
// it overrides the built-in defaults.
type FileConfig struct {
	DBPath string       `yaml:"db_path"`
	Source SourceConfig `yaml:"source"`
	Scan   ScanConfig   `yaml:"scan"`
}

type SourceConfig struct {
	Bucket           string `yaml:"bucket"`
	Prefix           string `yaml:"prefix"`
	FetchConcurrency int    `yaml:"fetch_concurrency"`
}

type ScanConfig struct {
	Query              string        `yaml:"query"`
	Owner              string        `yaml:"owner"`
	PageSize           int           `yaml:"page_size"`
	RecordThreshold    int           `yaml:"record_threshold"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	Budget             time.Duration `yaml:"budget"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
}

// UnmarshalYAML accepts durations written as strings like "45s" or "4m".
func (s *ScanConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Query              string `yaml:"query"`
		Owner              string `yaml:"owner"`
		PageSize           int    `yaml:"page_size"`
		RecordThreshold    int    `yaml:"record_threshold"`
		CheckpointInterval string `yaml:"checkpoint_interval"`
		Budget             string `yaml:"budget"`
		FetchTimeout       string `yaml:"fetch_timeout"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}

	s.Query = r.Query
	s.Owner = r.Owner
	s.PageSize = r.PageSize
	s.RecordThreshold = r.RecordThreshold

	for _, d := range []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"checkpoint_interval", r.CheckpointInterval, &s.CheckpointInterval},
		{"budget", r.Budget, &s.Budget},
		{"fetch_timeout", r.FetchTimeout, &s.FetchTimeout},
	} {
		if d.in == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.out = parsed
	}
	return nil
}

// LoadFileConfig reads the YAML config at path. A missing path returns an
// empty config, not an error, so the flag can default to a well-known name.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// scanConfig builds the scan tunables from defaults overlaid by the file.
func (fc FileConfig) scanConfig() scan.Config {
	cfg := scan.DefaultConfig()
	if fc.Scan.Query != "" {
		cfg.Query = fc.Scan.Query
	}
	if fc.Scan.Owner != "" {
		cfg.Owner = fc.Scan.Owner
	}
	if fc.Scan.PageSize > 0 {
		cfg.PageSize = fc.Scan.PageSize
	}
	if fc.Scan.RecordThreshold > 0 {
		cfg.RecordThreshold = fc.Scan.RecordThreshold
	}
	if fc.Scan.CheckpointInterval > 0 {
		cfg.CheckpointInterval = fc.Scan.CheckpointInterval
	}
	if fc.Scan.Budget > 0 {
		cfg.Budget = fc.Scan.Budget
	}
	if fc.Scan.FetchTimeout > 0 {
		cfg.FetchTimeout = fc.Scan.FetchTimeout
	}
	return cfg
}

// dbConfig builds the sender database config.
func (fc FileConfig) dbConfig(dbPath string) senderdb.Config {
	if dbPath == "" {
		dbPath = fc.DBPath
	}
	if dbPath == "" {
		dbPath = "mailscan.db"
	}
	return senderdb.DefaultConfig(dbPath)
}

// sourceConfig builds the S3 archive config.
func (fc FileConfig) sourceConfig(bucket, prefix string) s3mail.Config {
	if bucket == "" {
		bucket = fc.Source.Bucket
	}
	if prefix == "" {
		prefix = fc.Source.Prefix
	}
	cfg := s3mail.DefaultConfig(bucket, prefix)
	if fc.Source.FetchConcurrency > 0 {
		cfg.FetchConcurrency = fc.Source.FetchConcurrency
	}
	return cfg
}
