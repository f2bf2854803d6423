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

// Command ecovisord runs the supervisor until interrupted.  It is the
// same as "ecovisor start" with a smaller set of flags.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/ecovisor/ecovisor/config"
	"github.com/ecovisor/ecovisor/daemon"
)

func main() {
	var settingsFile string
	v := viper.New()

	flag.StringVar(&settingsFile, "c", "", "settings file")
	flag.String("a", "", "listen address")
	flag.String("f", "", "ecosystem file")
	flag.String("n", "", "supervisor name")
	flag.Bool("e", true, "enable all apps")
	flag.Parse()

	keys := map[string]string{
		"a": config.KeyAddress,
		"f": config.KeyEcosystem,
		"n": config.KeyName,
		"e": config.KeyEnable,
	}
	// Only flags given on the command line override the settings file.
	flag.Visit(func(f *flag.Flag) {
		if key, ok := keys[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})

	s, e := config.ReadSettings(v, settingsFile)
	if e != nil {
		log.Fatalf("Failed to read settings: %v", e)
	}
	d, e := daemon.New(s)
	if e != nil {
		log.Fatalf("Failed to load %s: %v", s.Ecosystem, e)
	}
	l, e := d.Listen()
	if e != nil {
		d.Manager().Shutdown()
		log.Fatalf("Failed to listen on %s: %v", s.Address, e)
	}
	log.Printf("Listening on %s", l.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if e = d.Run(ctx, l); e != nil {
		log.Printf("Supervisor stopped: %v", e)
		os.Exit(1)
	}
}
