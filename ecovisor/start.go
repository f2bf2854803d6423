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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ecovisor/ecovisor/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the supervisor in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, e := settings()
		if e != nil {
			return e
		}
		d, e := daemon.New(s)
		if e != nil {
			return e
		}
		l, e := d.Listen()
		if e != nil {
			d.Manager().Shutdown()
			return e
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx, l)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
