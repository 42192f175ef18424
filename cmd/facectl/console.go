package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/channel"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdTrigger
	cmdOneShot
	cmdReconnect
	cmdStatus
	cmdList
	cmdQuit
)

type consoleCommand struct {
	kind commandKind
	arg  string
}

// parseCommand maps one console line to a command. Anything that is not a
// console verb is treated as a trigger; a leading "!" sends it over HTTP.
func parseCommand(line string) consoleCommand {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return consoleCommand{kind: cmdNone}
	case "q", "quit", "exit":
		return consoleCommand{kind: cmdQuit}
	case "r", "reconnect":
		return consoleCommand{kind: cmdReconnect}
	case "s", "status":
		return consoleCommand{kind: cmdStatus}
	case "l", "list", "?", "help":
		return consoleCommand{kind: cmdList}
	}
	if rest, ok := strings.CutPrefix(line, "!"); ok {
		return consoleCommand{kind: cmdOneShot, arg: strings.TrimSpace(rest)}
	}
	return consoleCommand{kind: cmdTrigger, arg: line}
}

// resolveKey maps a key or trigger name to its catalog key. Unknown input is
// passed through as a raw key.
func resolveKey(c *catalog.Catalog, input string) string {
	if t, ok := c.Resolve(input); ok {
		return t.Key
	}
	return input
}

// readiness is the short label shown next to the prompt.
func readiness(st channel.Status) string {
	switch st.State {
	case channel.StateConnected:
		return "Ready"
	case channel.StateConnecting, channel.StateReconnecting:
		if st.QueueDepth > 0 {
			return "Sending..."
		}
	}
	return "Offline"
}

func renderStatus(st channel.Status, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", readiness(st), st.State, st.URL)
	if st.QueueDepth > 0 {
		fmt.Fprintf(&b, " | %d/%d queued", st.QueueDepth, st.QueueCapacity)
	}
	if st.State == channel.StateReconnecting {
		fmt.Fprintf(&b, " | retry #%d in %s", st.RetryCount, st.RetryIn(now).Round(100*time.Millisecond))
	}
	if !st.LastObserved.IsZero() {
		fmt.Fprintf(&b, " | last seen %s ago", now.Sub(st.LastObserved).Round(time.Second))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, " | error: %s", st.LastError)
	}
	return b.String()
}

func renderStateEvent(ev channel.StateEvent) string {
	switch ev.New {
	case channel.StateReconnecting:
		return fmt.Sprintf("%s -> %s (attempt %d in %s)", ev.Old, ev.New, ev.RetryCount, ev.RetryDelay)
	default:
		if ev.Err != nil {
			return fmt.Sprintf("%s -> %s: %v", ev.Old, ev.New, ev.Err)
		}
		return fmt.Sprintf("%s -> %s", ev.Old, ev.New)
	}
}

func renderTrigger(c *catalog.Catalog, key string) string {
	if t, ok := c.Lookup(key); ok {
		return fmt.Sprintf("%s %s", t.Emoji, t.Name)
	}
	return key
}

func renderCatalog(c *catalog.Catalog) string {
	var b strings.Builder
	for _, t := range c.All() {
		fmt.Fprintf(&b, "  %-3s %s %s\n", t.Key, t.Emoji, t.Name)
	}
	b.WriteString("  r = reconnect, s = status, q = quit, !KEY = send over HTTP\n")
	return b.String()
}

// printer serializes console output from the listeners and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
