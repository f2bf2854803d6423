// Copyright 2026 The Ecovisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyConfig   = errors.New("Empty ecosystem file")
	ErrNoScript      = errors.New("App has no script")
	ErrDuplicateName = errors.New("Duplicate app name")
)

// ParseError reports an ecosystem file that could not be loaded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the ecosystem file at path.  Both YAML and JSON are accepted.
func Load(path string) (*Config, error) {
	abs, e := filepath.Abs(path)
	if e != nil {
		return nil, &ParseError{Path: path, Err: e}
	}
	f, e := os.Open(abs)
	if e != nil {
		return nil, &ParseError{Path: path, Err: e}
	}
	defer f.Close()
	return Parse(f, abs)
}

// Parse decodes an ecosystem file from r.  The path is used for relative
// directories and error messages; it need not exist.
func Parse(r io.Reader, path string) (*Config, error) {
	b, e := io.ReadAll(r)
	if e != nil {
		return nil, &ParseError{Path: path, Err: e}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, &ParseError{Path: path, Err: ErrEmptyConfig}
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	cfg := &Config{}
	if e := dec.Decode(cfg); e != nil {
		return nil, &ParseError{Path: path, Err: e}
	}
	cfg.Path = path
	cfg.Dir = filepath.Dir(path)

	if e := cfg.validate(); e != nil {
		return nil, &ParseError{Path: path, Err: e}
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for i := range c.Apps {
		a := &c.Apps[i]
		if a.Script == "" {
			return fmt.Errorf("apps[%d]: %w", i, ErrNoScript)
		}
		a.setDefaults(c.Dir)
		if seen[a.Name] {
			return fmt.Errorf("apps[%d]: %w: %s", i, ErrDuplicateName, a.Name)
		}
		seen[a.Name] = true
	}
	if c.Deploy == nil {
		c.Deploy = make(map[string]DeployEnvironment)
	}
	for name, env := range c.Deploy {
		env.Name = name
		c.Deploy[name] = env
	}
	return nil
}
