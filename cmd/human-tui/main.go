// ABOUTME: Terminal console for answering human-gateway requests
// ABOUTME: Polls the operator API and submits answers from a bubbletea UI

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389/human-gateway/internal/client"
	"github.com/2389/human-gateway/internal/config"
)

func main() {
	defaultAddr := "127.0.0.1:5000"
	defaultInterval := time.Second
	if cfg, err := config.LoadOrDefault(config.ResolvePath()); err == nil {
		defaultAddr = cfg.Server.HTTPAddr
		defaultInterval = cfg.WebUI.PollInterval
	}

	addr := flag.String("addr", defaultAddr, "gateway HTTP address")
	interval := flag.Duration("interval", defaultInterval, "poll interval")
	altScreen := flag.Bool("alt-screen", true, "use the terminal's alternate screen")
	flag.Parse()

	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -interval must be positive")
		os.Exit(1)
	}

	m := newModel(client.New(*addr, nil), *interval)

	opts := []tea.ProgramOption{}
	if *altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
