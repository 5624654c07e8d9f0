package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Debug ports are drawn from this range so concurrent browsers on one host
// rarely collide.
const (
	debugPortMin = 9300
	debugPortMax = 9899
)

// Target discovery polls /json this many times.
const (
	targetPollAttempts = 40
	targetPollInterval = 250 * time.Millisecond
)

// LaunchOptions configures a browser process.
type LaunchOptions struct {
	BinaryPath  string // empty: discover an installed browser
	Headless    bool
	ProxyServer string // host:port; credentials go through Page proxy auth
	Display     string // X display for headful sessions, e.g. ":99"
	WindowSize  string // "1366,768"
	ExtraFlags  []string
}

// Process is a running browser with remote debugging enabled.
type Process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	Port    int
	DataDir string
	// WebSocketURL is the debugger URL of the initial page target.
	WebSocketURL string
}

// ResolveBinary returns opts.BinaryPath or the first browser found on the
// host.
func ResolveBinary(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrBrowserNotFound, path)
		}
		return path, nil
	}
	found, ok := launcher.LookPath()
	if !ok {
		return "", ErrBrowserNotFound
	}
	return found, nil
}

func buildFlags(opts LaunchOptions, port int, dataDir string) []string {
	size := opts.WindowSize
	if size == "" {
		size = "1366,768"
	}
	flags := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-dev-shm-usage",
		"--disable-features=Translate,MediaRouter",
		"--password-store=basic",
		"--lang=en-US",
		"--window-size=" + size,
	}
	if opts.Headless {
		flags = append(flags, "--headless=new")
	}
	if opts.ProxyServer != "" {
		flags = append(flags, "--proxy-server="+opts.ProxyServer)
	}
	flags = append(flags, opts.ExtraFlags...)
	return append(flags, "about:blank")
}

// Launch starts a browser and waits until its first page target accepts
// debugger connections.
func Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	bin, err := ResolveBinary(opts.BinaryPath)
	if err != nil {
		return nil, err
	}

	port := debugPortMin + rand.IntN(debugPortMax-debugPortMin+1)
	dataDir := filepath.Join(os.TempDir(), fmt.Sprintf("outreach-chrome-%d", port))
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create browser data dir: %w", err)
	}

	cmd := exec.Command(bin, buildFlags(opts, port, dataDir)...)
	cmd.Env = os.Environ()
	if opts.Display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY="+opts.Display)
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("start browser %s: %w", bin, err)
	}

	p := &Process{cmd: cmd, exited: make(chan struct{}), Port: port, DataDir: dataDir}
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()

	ws, err := waitForPageTarget(ctx, fmt.Sprintf("http://127.0.0.1:%d", port), targetPollAttempts, targetPollInterval)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.WebSocketURL = ws
	logger.Info("browser launched", "binary", bin, "port", port, "headless", opts.Headless, "proxy", opts.ProxyServer != "")
	return p, nil
}

type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// waitForPageTarget polls base+"/json" until a page target exposes a
// debugger URL.
func waitForPageTarget(ctx context.Context, base string, attempts int, interval time.Duration) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(interval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json", nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		var targets []targetInfo
		err = json.NewDecoder(resp.Body).Decode(&targets)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		for _, t := range targets {
			if t.Type == "page" && t.WebSocketDebuggerURL != "" {
				return t.WebSocketDebuggerURL, nil
			}
		}
		lastErr = ErrNoPageTarget
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrNoPageTarget, attempts, lastErr)
}

// Close interrupts the browser, kills it if it has not exited after five
// seconds, and removes its data directory.
func (p *Process) Close() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.exited:
		case <-time.After(5 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
	}
	if p.DataDir != "" {
		_ = os.RemoveAll(p.DataDir)
	}
}
