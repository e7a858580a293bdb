package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/liveload/liveload/internal/demohost"
)

// This package's commands talk to a long-running liveload-demo serve
// process over a Unix domain socket, the same shape
// internal/preview/loader.go's sendReloadCommand uses to hand a rebuilt
// dylib path to a host process that's already running: a short line
// protocol, OK or "ERR: <message>" responses, and dial-with-backoff on
// the client side since the server may not be listening yet.
//
// Without this, every add/remove/status/watch invocation would start a
// brand-new, empty Loader and exit, discarding its state immediately —
// the tool's own add-then-status workflow would never see anything the
// previous invocation loaded. serve is the one process that actually
// holds a Loader for more than a single command.

const (
	cmdAdd    = "ADD"
	cmdRemove = "REMOVE"
	cmdStatus = "STATUS"
	cmdWatch  = "WATCH"

	statusEnd = "."
)

// dialBackoffs mirrors sendReloadCommand's retry schedule: the server may
// still be coming up when a client command runs right after `serve`.
var dialBackoffs = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

func dialWithRetry(socketPath string) (net.Conn, error) {
	var conn net.Conn
	var lastErr error
	for _, d := range dialBackoffs {
		conn, lastErr = net.DialTimeout("unix", socketPath, 1*time.Second)
		if lastErr == nil {
			return conn, nil
		}
		slog.Debug("socket not ready, retrying", "backoff", d, "err", lastErr)
		time.Sleep(d)
	}
	return nil, fmt.Errorf("connecting to liveload-demo serve at %s: %w", socketPath, lastErr)
}

// sendSimpleCommand sends a single-line command and returns the single
// response line, stripped of the "OK " prefix. An "ERR: ..." response is
// returned as an error.
func sendSimpleCommand(socketPath, line string) (string, error) {
	conn, err := dialWithRetry(socketPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading response: %w", err)
		}
		return "", fmt.Errorf("no response from liveload-demo serve")
	}
	resp := scanner.Text()
	if strings.HasPrefix(resp, "ERR:") {
		return "", fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(resp, "ERR:")))
	}
	return strings.TrimPrefix(resp, "OK "), nil
}

// fetchStatus sends STATUS and reads rows until the "." sentinel line.
func fetchStatus(socketPath string) ([]demohost.StatusRow, error) {
	conn, err := dialWithRetry(socketPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(conn, "%s\n", cmdStatus); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	var rows []demohost.StatusRow
	for scanner.Scan() {
		line := scanner.Text()
		if line == statusEnd {
			return rows, nil
		}
		if strings.HasPrefix(line, "ERR:") {
			return nil, fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(line, "ERR:")))
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		reloads, _ := strconv.Atoi(parts[2])
		rows = append(rows, demohost.StatusRow{Name: parts[0], LoadPath: parts[1], Reloads: reloads})
	}
	return rows, scanner.Err()
}

// streamWatch sends WATCH and invokes onLine for every event line the
// server pushes, until the server closes the connection or the socket
// goes away.
func streamWatch(socketPath string, onLine func(string)) error {
	conn, err := dialWithRetry(socketPath)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if _, err := fmt.Fprintf(conn, "%s\n", cmdWatch); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	return scanner.Err()
}

// server is the serve-side daemon: one demohost.Loader, a Unix socket
// accept loop, and a set of WATCH subscribers fed by the poll ticker.
type server struct {
	dl *demohost.Loader

	mu   sync.Mutex
	subs map[chan string]struct{}
}

func newServer(dl *demohost.Loader) *server {
	return &server{dl: dl, subs: make(map[chan string]struct{})}
}

func (s *server) subscribe() chan string {
	ch := make(chan string, 32)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *server) unsubscribe(ch chan string) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *server) broadcast(lines []string) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		for _, line := range lines {
			select {
			case ch <- line:
			default:
				// Slow subscriber: drop rather than block the poll loop.
			}
		}
	}
}

// runServe starts the accept loop and the background poll ticker. It
// blocks until the listener is closed.
func runServe(socketPath string, dl *demohost.Loader, pollInterval time.Duration) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer func() { _ = ln.Close() }()
	slog.Info("liveload-demo serve listening", "socket", socketPath)

	s := newServer(dl)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				lines, err := dl.Poll()
				if err != nil {
					slog.Warn("poll error", "err", err)
				}
				s.broadcast(lines)
			}
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	line := scanner.Text()
	fields := strings.Fields(line)
	if len(fields) == 0 {
		fmt.Fprintf(conn, "ERR: empty command\n")
		return
	}

	switch fields[0] {
	case cmdAdd, cmdRemove:
		if len(fields) != 2 {
			fmt.Fprintf(conn, "ERR: %s requires exactly one argument\n", fields[0])
			return
		}
		var err error
		if fields[0] == cmdAdd {
			err = s.dl.AddLibrary(fields[1])
		} else {
			err = s.dl.RemoveLibrary(fields[1])
		}
		if err != nil {
			fmt.Fprintf(conn, "ERR: %v\n", err)
			return
		}
		fmt.Fprintf(conn, "OK %s\n", fields[1])

	case cmdStatus:
		for _, row := range s.dl.Status() {
			fmt.Fprintf(conn, "%s\t%s\t%d\n", row.Name, row.LoadPath, row.Reloads)
		}
		fmt.Fprintf(conn, "%s\n", statusEnd)

	case cmdWatch:
		sub := s.subscribe()
		defer s.unsubscribe(sub)
		for line := range sub {
			if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
				return
			}
		}

	default:
		fmt.Fprintf(conn, "ERR: unknown command %q\n", fields[0])
	}
}
