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
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/ecovisor/ecovisor/rest"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
	StyleTitle = tcell.StyleDefault.
			Foreground(tcell.ColorWhite).
			Background(tcell.ColorTeal).
			Bold(true)
	StyleKeys = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
)

// snapshot is what one refresh fetched from the server.
type snapshot struct {
	items   []*rest.ServiceInfo
	records []rest.LogRecord
	err     error
}

// notice is a one line message, usually the result of an action.
type notice string

type dashboard struct {
	client *rest.Client
	server string
	screen tcell.Screen
	ctx    context.Context

	// logName is read by the refresher.
	logName string
	logging bool
	lock    sync.Mutex

	items    []*rest.ServiceInfo
	records  []rest.LogRecord
	err      error
	selected string
	cursor   int
	message  string
}

func (d *dashboard) view() (string, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.logName, d.logging
}

func (d *dashboard) setView(name string, logging bool) {
	d.lock.Lock()
	d.logName = name
	d.logging = logging
	d.lock.Unlock()
	d.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

func (d *dashboard) fetch() *snapshot {
	snap := &snapshot{}
	names, e := d.client.Services(d.ctx)
	if e != nil {
		snap.err = e
		return snap
	}
	for _, n := range names {
		info, e := d.client.GetService(d.ctx, n)
		if e != nil {
			// deleted between the two calls
			continue
		}
		snap.items = append(snap.items, info)
	}
	sortServices(snap.items)

	if name, logging := d.view(); logging {
		li, e := d.client.GetLog(d.ctx, name)
		if e != nil {
			snap.err = e
			return snap
		}
		snap.records = li.Records
	}
	return snap
}

func (d *dashboard) refresh() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		d.screen.PostEvent(tcell.NewEventInterrupt(d.fetch()))
		select {
		case <-d.ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (d *dashboard) apply(snap *snapshot) {
	d.err = snap.err
	if snap.err != nil {
		return
	}
	d.items = snap.items
	d.records = snap.records

	// keep the selection on the same app even if the order moved
	d.cursor = -1
	for i, item := range d.items {
		if item.Name == d.selected {
			d.cursor = i
		}
	}
	if d.cursor < 0 {
		d.selected = ""
	}
}

func (d *dashboard) current() *rest.ServiceInfo {
	if d.cursor >= 0 && d.cursor < len(d.items) && d.selected != "" {
		return d.items[d.cursor]
	}
	return nil
}

func (d *dashboard) move(delta int) {
	if len(d.items) == 0 {
		return
	}
	if d.selected == "" {
		d.cursor = 0
	} else {
		d.cursor += delta
	}
	if d.cursor < 0 {
		d.cursor = 0
	}
	if d.cursor >= len(d.items) {
		d.cursor = len(d.items) - 1
	}
	d.selected = d.items[d.cursor].Name
}

// act runs an action in the background and reports how it went.
func (d *dashboard) act(verb string, fn func(*rest.Client, context.Context, string) error) {
	name := d.selected
	d.message = fmt.Sprintf("%s %s...", verb, name)
	go func() {
		msg := fmt.Sprintf("%s %s: done", verb, name)
		if e := fn(d.client, d.ctx, name); e != nil {
			msg = fmt.Sprintf("%s %s: %v", verb, name, e)
		}
		d.screen.PostEvent(tcell.NewEventInterrupt(notice(msg)))
	}()
}

// handleKey returns true when the dashboard should exit.
func (d *dashboard) handleKey(ev *tcell.EventKey) bool {
	item := d.current()
	d.message = ""
	switch ev.Key() {
	case tcell.KeyCtrlC:
		return true
	case tcell.KeyEsc:
		if _, logging := d.view(); logging {
			d.setView("", false)
		} else {
			d.selected = ""
			d.cursor = -1
		}
	case tcell.KeyUp:
		d.move(-1)
	case tcell.KeyDown:
		d.move(1)
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'Q', 'q':
			return true
		case 'L', 'l':
			if _, logging := d.view(); logging {
				d.setView("", false)
			} else if item != nil {
				d.setView(item.Name, true)
			} else {
				d.setView("", true)
			}
		case 'E', 'e':
			if item != nil && !item.Enabled {
				d.act("Enable", (*rest.Client).EnableService)
			}
		case 'D', 'd':
			if item != nil && item.Enabled {
				d.act("Disable", (*rest.Client).DisableService)
			}
		case 'R', 'r':
			if item != nil && item.Enabled {
				d.act("Restart", (*rest.Client).RestartService)
			}
		case 'C', 'c':
			if item != nil && item.Failed {
				d.act("Clear", (*rest.Client).ClearService)
			}
		}
	}
	return false
}

func (d *dashboard) puts(y int, style tcell.Style, s string) {
	w, _ := d.screen.Size()
	x := 0
	for _, r := range s {
		if x >= w {
			return
		}
		d.screen.SetContent(x, y, r, nil, style)
		x++
	}
	for ; x < w; x++ {
		d.screen.SetContent(x, y, ' ', nil, style)
	}
}

func (d *dashboard) keys() string {
	words := "[Q] Quit"
	if _, logging := d.view(); logging {
		return words + "  [L] Back"
	}
	item := d.current()
	if item == nil {
		return words + "  [L] Log"
	}
	words += "  [L] Log"
	if !item.Enabled {
		return words + "  [E] Enable"
	}
	words += "  [D] Disable  [R] Restart"
	if item.Failed {
		words += "  [C] Clear"
	}
	return words
}

func (d *dashboard) drawItems(top, rows int) (string, tcell.Style) {
	var nfailed, nrunning, nstopped, ndisabled int
	for i, info := range d.items {
		var style tcell.Style
		switch {
		case !info.Enabled:
			style = StyleNormal
			ndisabled++
		case info.Failed:
			style = StyleError
			nfailed++
		case !info.Running:
			style = StyleWarn
			nstopped++
		default:
			style = StyleGood
			nrunning++
		}
		if i >= rows {
			continue
		}
		if info.Name == d.selected {
			style = style.Reverse(true)
		}
		cpu, mem := "", ""
		if info.Pid > 0 {
			cpu = fmt.Sprintf("%.1f%%", info.CPU)
			mem = formatBytes(info.RSS)
		}
		line := fmt.Sprintf("%-20s %-10s %10s %7s %8s   %s",
			info.Name, status(info),
			formatDuration(time.Since(info.TimeStamp)),
			cpu, mem, info.Status)
		d.puts(top+i, style, line)
	}

	line := fmt.Sprintf(
		"%6d Services %6d Faulted %6d Running %6d Standby %6d Disabled",
		len(d.items), nfailed, nrunning, nstopped, ndisabled)
	switch {
	case nfailed > 0:
		return line, StyleError.Reverse(true)
	case nstopped > 0:
		return line, StyleWarn.Reverse(true)
	case nrunning > 0:
		return line, StyleGood.Reverse(true)
	}
	return line, StyleNormal.Reverse(true)
}

func (d *dashboard) drawLog(top, rows int) string {
	recs := d.records
	if len(recs) > rows {
		recs = recs[len(recs)-rows:]
	}
	for i, r := range recs {
		src := ""
		if r.Source != "" {
			src = "[" + r.Source + "] "
		}
		d.puts(top+i, StyleNormal, r.Time.Format("15:04:05")+" "+src+r.Text)
	}
	if name, _ := d.view(); name != "" {
		return "Log: " + name
	}
	return "Log: all"
}

func (d *dashboard) draw() {
	d.screen.Clear()
	_, h := d.screen.Size()
	if h < 4 {
		d.screen.Show()
		return
	}
	d.puts(0, StyleTitle, "ecovisor  "+d.server)
	top, rows := 1, h-3

	var line string
	style := StyleNormal.Reverse(true)
	if _, logging := d.view(); logging {
		line = d.drawLog(top, rows)
	} else {
		line, style = d.drawItems(top, rows)
	}
	switch {
	case d.err != nil:
		var re *rest.Error
		if errors.As(d.err, &re) && re.Code == http.StatusUnauthorized {
			line = "Not authorized, use --user"
		} else {
			line = fmt.Sprintf("Cannot load items: %v", d.err)
		}
		style = StyleError.Reverse(true)
	case d.message != "":
		line = d.message
	}
	d.puts(h-2, style, line)
	d.puts(h-1, StyleKeys, d.keys())
	d.screen.Show()
}

func (d *dashboard) run() error {
	go d.refresh()
	d.draw()
	for {
		switch ev := d.screen.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			d.screen.Sync()
		case *tcell.EventInterrupt:
			switch data := ev.Data().(type) {
			case *snapshot:
				d.apply(data)
			case notice:
				d.message = string(data)
			}
		case *tcell.EventKey:
			if d.handleKey(ev) {
				return nil
			}
		}
		d.draw()
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Full screen status display",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, url, e := newClient()
		if e != nil {
			return e
		}
		screen, e := tcell.NewScreen()
		if e != nil {
			return e
		}
		if e = screen.Init(); e != nil {
			return e
		}
		defer screen.Fini()
		screen.SetStyle(StyleNormal)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		d := &dashboard{
			client: c,
			server: url,
			screen: screen,
			ctx:    ctx,
			cursor: -1,
		}
		return d.run()
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
