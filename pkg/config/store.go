package config

import (
	"bytes"
	"path/filepath"

	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	expanded, err := fileaccess.ExpandPath(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}
	if err := enc.Close(); err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}

	if err := fileaccess.MkdirAll(filepath.Dir(expanded)); err != nil {
		return err
	}
	return fileaccess.AtomicReplace(expanded, buf.Bytes())
}
