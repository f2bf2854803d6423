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
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ecovisor/ecovisor/rest"
)

var followLog bool

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List all apps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, e := newClient()
		if e != nil {
			return e
		}
		names, e := c.Services(cmd.Context())
		if e != nil {
			return e
		}
		if jsonOutput {
			return printJson(names)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func fetchServices(ctx context.Context, c *rest.Client, names []string) ([]*rest.ServiceInfo, error) {
	if len(names) == 0 {
		var e error
		if names, e = c.Services(ctx); e != nil {
			return nil, e
		}
	}
	infos := []*rest.ServiceInfo{}
	for _, n := range names {
		info, e := c.GetService(ctx, n)
		if e != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", n, e)
			continue
		}
		infos = append(infos, info)
	}
	sortServices(infos)
	return infos, nil
}

var statusCmd = &cobra.Command{
	Use:   "status [<app> ...]",
	Short: "Show status for the named apps, or all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, e := newClient()
		if e != nil {
			return e
		}
		infos, e := fetchServices(cmd.Context(), c, args)
		if e != nil {
			return e
		}
		if jsonOutput {
			return printJson(infos)
		}
		if len(infos) == 0 {
			fmt.Println("No apps")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Name", "Status", "Pid", "CPU", "Memory", "Restarts", "Since", "Detail")
		for _, s := range infos {
			pid, cpu, mem := "-", "-", "-"
			if s.Pid > 0 {
				pid = fmt.Sprint(s.Pid)
				cpu = fmt.Sprintf("%.1f%%", s.CPU)
				mem = formatBytes(s.RSS)
			}
			table.Append([]string{
				s.Name,
				status(s),
				pid,
				cpu,
				mem,
				fmt.Sprint(s.Restarts),
				formatDuration(time.Since(s.TimeStamp)),
				s.Status,
			})
		}
		return table.Render()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <app>",
	Short: "Show detailed information about an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, e := newClient()
		if e != nil {
			return e
		}
		s, e := c.GetService(cmd.Context(), args[0])
		if e != nil {
			return e
		}
		if jsonOutput {
			return printJson(s)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Property", "Value")
		table.Append([]string{"Name", s.Name})
		table.Append([]string{"Desc", s.Description})
		table.Append([]string{"Status", status(s)})
		table.Append([]string{"Since", formatDuration(time.Since(s.TimeStamp))})
		table.Append([]string{"Detail", s.Status})
		table.Append([]string{"Restarts", fmt.Sprint(s.Restarts)})
		if s.Watch != "" {
			table.Append([]string{"Watch", s.Watch})
		}
		if s.Pid > 0 {
			table.Append([]string{"Pid", fmt.Sprint(s.Pid)})
			table.Append([]string{"CPU", fmt.Sprintf("%.1f%%", s.CPU)})
			table.Append([]string{"Memory", formatBytes(s.RSS)})
		}
		return table.Render()
	},
}

func actionCmd(use, short string, action func(*rest.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <app>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, e := newClient()
			if e != nil {
				return e
			}
			return action(c, cmd.Context(), args[0])
		},
	}
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Restart every enabled app of the running supervisor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, e := newClient()
		if e != nil {
			return e
		}
		return c.Reload(cmd.Context())
	},
}

func printRecords(recs []rest.LogRecord) {
	for _, r := range recs {
		src := ""
		if r.Source != "" {
			src = "[" + r.Source + "] "
		}
		fmt.Printf("%s %s%s\n", r.Time.Format("2006-01-02 15:04:05"), src, r.Text)
	}
}

var logCmd = &cobra.Command{
	Use:   "log [<app>]",
	Short: "Show the log of an app, or of the whole supervisor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, e := newClient()
		if e != nil {
			return e
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		ctx := cmd.Context()
		li, e := c.GetLog(ctx, name)
		if e != nil {
			return e
		}
		if jsonOutput && !followLog {
			return printJson(li.Records)
		}
		printRecords(li.Records)
		if !followLog {
			return nil
		}

		for {
			var last int64
			if n := len(li.Records); n > 0 {
				last = li.Records[n-1].Id
			}
			nli, e := c.WatchLog(ctx, name, li)
			if e != nil {
				return e
			}
			if nli == li {
				continue
			}
			fresh := []rest.LogRecord{}
			for _, r := range nli.Records {
				if r.Id > last {
					fresh = append(fresh, r)
				}
			}
			printRecords(fresh)
			li = nli
		}
	},
}

func init() {
	logCmd.Flags().BoolVarP(&followLog, "follow", "F", false, "keep printing new lines")

	rootCmd.AddCommand(
		servicesCmd,
		statusCmd,
		infoCmd,
		reloadCmd,
		logCmd,
		actionCmd("enable", "Enable and start an app", (*rest.Client).EnableService),
		actionCmd("disable", "Stop and disable an app", (*rest.Client).DisableService),
		actionCmd("restart", "Restart an app", (*rest.Client).RestartService),
		actionCmd("clear", "Clear an app's fault", (*rest.Client).ClearService),
	)
}
