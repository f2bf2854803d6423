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

// Command ecovisor runs and controls the supervisor and deploys code to
// remote environments.
//
// Supervisor commands:
//
//	start                    run the supervisor in the foreground
//	reload                   restart every app of a running supervisor
//	services                 list all apps
//	status [<app> ...]       show status for the named apps (or all)
//	info <app>               show more detailed app info
//	enable|disable <app>     enable or disable the named app
//	restart|clear <app>      restart the app, or clear its fault
//	log [<app>]              show the log of one app, or everything
//	dashboard                full screen status display
//
// Deploy commands:
//
//	setup <env>              prepare the remote host
//	deploy <env>             deploy the configured ref
//	deploy <env> exec <cmd>  run a command in the current release
//	history <env>            show past deploys
//
// The exit status is 0 on success, the status of the failing hook when a
// hook fails, 255 when the remote host cannot be reached and 1 otherwise.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ecovisor/ecovisor/config"
	"github.com/ecovisor/ecovisor/deploy"
	"github.com/ecovisor/ecovisor/rest"
)

var (
	settingsFile string
	userPass     string
	jsonOutput   bool
	v            = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "ecovisor",
	Short:         "Process supervisor with remote deploys",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&settingsFile, "settings", "", "settings file (default <state dir>/settings.yaml)")
	pf.StringP("address", "a", "", "control API address")
	pf.StringP("ecosystem", "f", "", "ecosystem file (default ecosystem.yaml)")
	pf.String("state-dir", "", "directory for deploy state")
	pf.String("pushgateway", "", "Pushgateway URL for deploy metrics")
	pf.StringVarP(&userPass, "user", "u", "", "user:pass for the control API")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	v.BindPFlag(config.KeyAddress, pf.Lookup("address"))
	v.BindPFlag(config.KeyEcosystem, pf.Lookup("ecosystem"))
	v.BindPFlag(config.KeyStateDir, pf.Lookup("state-dir"))
	v.BindPFlag(config.KeyPushGateway, pf.Lookup("pushgateway"))
}

func settings() (*config.Settings, error) {
	return config.ReadSettings(v, settingsFile)
}

// clientURL turns a listen address into a base URL.
func clientURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

func newClient() (*rest.Client, string, error) {
	s, e := settings()
	if e != nil {
		return nil, "", e
	}
	url := clientURL(s.Address)
	c := rest.NewClient(nil, url)
	if userPass != "" {
		user, pass, ok := strings.Cut(userPass, ":")
		if !ok {
			return nil, "", fmt.Errorf("bad user:pass supplied")
		}
		c.SetAuth(user, pass)
	}
	return c, url, nil
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecovisor: %v\n", err)
	}
	os.Exit(deploy.ExitCode(err))
}
