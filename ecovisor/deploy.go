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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ecovisor/ecovisor/config"
	"github.com/ecovisor/ecovisor/deploy"
	"github.com/ecovisor/ecovisor/metrics"
)

var historyCount int

// PushTimeout bounds the metrics push after a deploy.
var PushTimeout = 10 * time.Second

// deployer is an orchestrator over the on-disk deploy state.
type deployer struct {
	settings *config.Settings
	state    *deploy.DBState
	metrics  *metrics.Metrics
	*deploy.Orchestrator
}

func openDeployer(s *config.Settings) (*deployer, error) {
	if e := os.MkdirAll(s.StateDir, 0700); e != nil {
		return nil, e
	}
	st, e := deploy.OpenState(filepath.Join(s.StateDir, "state.db"))
	if e != nil {
		return nil, e
	}
	mt := metrics.New(nil)
	o := deploy.NewOrchestrator(st, log.New(os.Stderr, "", log.LstdFlags))
	o.Metrics = mt
	return &deployer{settings: s, state: st, metrics: mt, Orchestrator: o}, nil
}

func (d *deployer) Close() error {
	return d.state.Close()
}

// push hands the deploy metrics to the configured Pushgateway.  A failed
// push is reported but does not change the outcome of the deploy.
func (d *deployer) push(ctx context.Context, env string) {
	if d.settings.PushGateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PushTimeout)
	defer cancel()
	e := d.metrics.Push(ctx, d.settings.PushGateway, "ecovisor_deploy", map[string]string{"env": env})
	if e != nil {
		fmt.Fprintf(os.Stderr, "ecovisor: pushing metrics: %v\n", e)
	}
}

// loadConfig reads the settings and the ecosystem file they name.
func loadConfig() (*config.Settings, *config.Config, error) {
	s, e := settings()
	if e != nil {
		return nil, nil, e
	}
	cfg, e := config.Load(s.Ecosystem)
	if e != nil {
		return nil, nil, e
	}
	return s, cfg, nil
}

// orchestrator opens the deploy state and resolves the named environment.
func orchestrator(env string) (*deployer, *deploy.Plan, error) {
	s, cfg, e := loadConfig()
	if e != nil {
		return nil, nil, e
	}
	p, e := deploy.Resolve(cfg, env)
	if e != nil {
		return nil, nil, e
	}
	d, e := openDeployer(s)
	if e != nil {
		return nil, nil, e
	}
	return d, p, nil
}

func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func printReport(r *deploy.Report, err error) {
	if r == nil {
		return
	}
	if jsonOutput {
		printJson(r)
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Step", "Where", "Status", "Time")
	for _, s := range r.Steps {
		where := "remote"
		if s.Local {
			where = "local"
		}
		table.Append([]string{
			s.Name,
			where,
			fmt.Sprint(s.Code),
			s.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()
	result := "ok"
	if err != nil {
		result = "failed"
	}
	fmt.Printf("%s %s of %s at %s: %s\n", r.Kind, r.ID, r.Env, r.Ref, result)
}

var deployCmd = &cobra.Command{
	Use:   "deploy <env> [exec <command>...]",
	Short: "Deploy to an environment, or run a command in its current release",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, p, e := orchestrator(args[0])
		if e != nil {
			return e
		}
		defer d.Close()

		ctx, stop := interruptible(cmd.Context())
		defer stop()

		switch {
		case len(args) == 1:
			r, e := d.Deploy(ctx, p)
			printReport(r, e)
			d.push(ctx, p.Env)
			return e
		case args[1] == "exec":
			return d.Exec(ctx, p, strings.Join(args[2:], " "))
		default:
			return fmt.Errorf("unknown deploy action %q", args[1])
		}
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup <env>",
	Short: "Prepare the remote host of an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, p, e := orchestrator(args[0])
		if e != nil {
			return e
		}
		defer d.Close()

		ctx, stop := interruptible(cmd.Context())
		defer stop()

		r, e := d.Setup(ctx, p)
		printReport(r, e)
		d.push(ctx, p.Env)
		return e
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <env>",
	Short: "Show past deploys of an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// History needs only the name; the environment's variables may
		// not be set on this machine.
		s, cfg, e := loadConfig()
		if e != nil {
			return e
		}
		if _, ok := cfg.Environment(args[0]); !ok {
			return fmt.Errorf("%w: %s", deploy.ErrUnknownEnvironment, args[0])
		}
		d, e := openDeployer(s)
		if e != nil {
			return e
		}
		defer d.Close()

		recs, e := d.History(args[0], historyCount)
		if e != nil {
			return e
		}
		if jsonOutput {
			return printJson(recs)
		}
		if len(recs) == 0 {
			fmt.Printf("No deploys of %s\n", args[0])
			return nil
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Id", "Kind", "Ref", "Started", "Took", "Result")
		for _, r := range recs {
			result := "ok"
			if !r.OK {
				result = fmt.Sprintf("%s: %d", r.Hook, r.Code)
			}
			table.Append([]string{
				r.ID,
				r.Kind,
				r.Ref,
				r.Started.Local().Format("2006-01-02 15:04:05"),
				formatDuration(r.Finished.Sub(r.Started)),
				result,
			})
		}
		return table.Render()
	},
}

func init() {
	deployCmd.Flags().SetInterspersed(false)
	historyCmd.Flags().IntVarP(&historyCount, "count", "n", 10, "number of entries, 0 for all")

	rootCmd.AddCommand(deployCmd, setupCmd, historyCmd)
}
