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
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override settings,
// e.g. ECOVISOR_ADDRESS.
const EnvPrefix = "ECOVISOR"

// Setting keys.
const (
	KeyAddress     = "address"
	KeyEcosystem   = "ecosystem"
	KeyStateDir    = "state_dir"
	KeyName        = "name"
	KeyAuthUser    = "auth_user"
	KeyAuthHash    = "auth_hash"
	KeyMaxConns    = "max_conns"
	KeyEnable      = "enable"
	KeyPushGateway = "pushgateway"
)

// Settings control the daemon and CLI themselves, as opposed to the
// ecosystem file which describes apps and environments.
type Settings struct {
	Address     string // control API listen address (daemon) or URL (client)
	Ecosystem   string // path to the ecosystem file
	StateDir    string // where the deploy state database lives
	Name        string // manager name
	AuthUser    string // basic auth user, empty disables auth
	AuthHash    string // bcrypt hash of the basic auth password
	MaxConns    int    // concurrent control connections
	Enable      bool   // enable every app at start
	PushGateway string // Pushgateway URL for deploy metrics, empty disables
}

// DefaultStateDir picks a per-user (or system, when running as root)
// directory for persistent state.  ECOVISORDIR overrides it.
func DefaultStateDir() string {
	base := os.Getenv("ECOVISORDIR")
	if base != "" {
		return base
	}
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("HOME")
		if base == "" {
			base = "C:\\"
		}
	default:
		if os.Geteuid() == 0 {
			return "/var/lib/ecovisor"
		}
		base = os.Getenv("HOME")
		if base == "" {
			base = "."
		}
	}
	return filepath.Join(base, ".ecovisor")
}

// SetDefaults installs the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddress, "127.0.0.1:8321")
	v.SetDefault(KeyEcosystem, "ecosystem.yaml")
	v.SetDefault(KeyStateDir, DefaultStateDir())
	v.SetDefault(KeyName, "ecovisor")
	v.SetDefault(KeyMaxConns, 64)
	v.SetDefault(KeyEnable, true)
}

// ReadSettings resolves settings from v.  If file is set it must exist;
// otherwise settings.yaml is looked up in the state directory and in the
// working directory, and a missing file is not an error.
func ReadSettings(v *viper.Viper, file string) (*Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString(KeyStateDir))
		v.AddConfigPath(".")
	}
	if e := v.ReadInConfig(); e != nil {
		var nf viper.ConfigFileNotFoundError
		if file != "" || !errors.As(e, &nf) {
			return nil, &ParseError{Path: file, Err: e}
		}
	}

	return &Settings{
		Address:     v.GetString(KeyAddress),
		Ecosystem:   v.GetString(KeyEcosystem),
		StateDir:    v.GetString(KeyStateDir),
		Name:        v.GetString(KeyName),
		AuthUser:    v.GetString(KeyAuthUser),
		AuthHash:    v.GetString(KeyAuthHash),
		MaxConns:    v.GetInt(KeyMaxConns),
		Enable:      v.GetBool(KeyEnable),
		PushGateway: v.GetString(KeyPushGateway),
	}, nil
}
