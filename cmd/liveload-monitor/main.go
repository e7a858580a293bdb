// Command liveload-monitor is a terminal dashboard over a demo
// liveload.Loader: a table of loaded libraries refreshed on every poll
// tick, next to a scrolling log of reload events. It owns its own
// in-process Loader and loads the libraries named as command-line
// arguments; it does not connect to a liveload-demo serve process.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/liveload/liveload/internal/demohost"
	"github.com/rivo/tview"
)

func main() {
	var (
		pollInterval time.Duration
		searchDirs   stringList
	)
	flag.DurationVar(&pollInterval, "poll", 500*time.Millisecond, "loader poll interval")
	flag.Var(&searchDirs, "search-dir", "additional library search directory (repeatable)")
	flag.Parse()

	dl, err := demohost.New(searchDirs, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "liveload-monitor: %v\n", err)
		os.Exit(1)
	}
	for _, name := range flag.Args() {
		if err := dl.AddLibrary(name); err != nil {
			fmt.Fprintf(os.Stderr, "liveload-monitor: add %s: %v\n", name, err)
		}
	}
	defer func() { _ = dl.Close() }()

	if err := run(dl, pollInterval); err != nil {
		fmt.Fprintf(os.Stderr, "liveload-monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(dl *demohost.Loader, pollInterval time.Duration) error {
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(math.MaxInt),
	})))
	defer slog.SetDefault(prev)

	app := tview.NewApplication()

	table := tview.NewTable().SetBorders(false).SetSelectable(false, false)
	table.SetBorder(true).SetTitle(" Loaded Libraries ")

	eventLog := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	eventLog.SetBorder(true).SetTitle(" Events ")

	footer := tview.NewTextView().SetTextAlign(tview.AlignLeft).
		SetText(" q quit")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, false).
		AddItem(eventLog, 0, 3, false).
		AddItem(footer, 1, 0, false)

	redraw := func() {
		rows := dl.Status()
		table.Clear()
		headers := []string{"NAME", "LOAD PATH", "RELOADS"}
		for col, h := range headers {
			table.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetTextColor(tcell.ColorYellow))
		}
		for i, row := range rows {
			table.SetCell(i+1, 0, tview.NewTableCell(row.Name))
			table.SetCell(i+1, 1, tview.NewTableCell(row.LoadPath))
			table.SetCell(i+1, 2, tview.NewTableCell(fmt.Sprintf("%d", row.Reloads)))
		}

		eventLog.SetText("")
		for _, line := range dl.RecentEvents() {
			fmt.Fprintln(eventLog, line)
		}
		eventLog.ScrollToEnd()
	}

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune && event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := dl.Poll(); err != nil {
					app.QueueUpdateDraw(func() {
						fmt.Fprintf(eventLog, "[red]update error: %v[white]\n", err)
					})
					continue
				}
				app.QueueUpdateDraw(redraw)
			}
		}
	}()

	app.SetRoot(flex, true)
	redraw()
	err := app.Run()
	close(done)
	return err
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
