package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultWorkerPort is the localhost port the worker listens on.
	DefaultWorkerPort = 43917

	// workerStartTimeout bounds how long a hook waits for a freshly
	// spawned worker to become healthy.
	workerStartTimeout = 5 * time.Second

	// healthCheckTimeout keeps hook invocations fast when the worker is
	// down.
	healthCheckTimeout = 500 * time.Millisecond
)

// Version is the hook binary version, set at build time via ldflags.
var Version = "dev"

// GetWorkerPort returns the worker port, honoring the NUDGE_WORKER_PORT
// environment override.
func GetWorkerPort() int {
	if v := os.Getenv("NUDGE_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			return port
		}
	}
	return DefaultWorkerPort
}

// IsWorkerRunning reports whether a healthy worker answers on port.
func IsWorkerRunning(port int) bool {
	client := &http.Client{Timeout: healthCheckTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetWorkerVersion returns the running worker's version, or "" when it
// cannot be determined.
func GetWorkerVersion(port int) string {
	client := &http.Client{Timeout: healthCheckTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/version", port))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Version
}

// IsPortInUse reports whether something is listening on port.
func IsPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), healthCheckTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// KillProcessOnPort kills whatever process is listening on port. Used to
// clear a stale or version-mismatched worker before respawning.
func KillProcessOnPort(port int) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		// lsof exits non-zero when nothing listens; that is fine.
		return nil
	}

	for _, pid := range strings.Fields(string(out)) {
		_ = exec.Command("kill", pid).Run()
	}
	return nil
}

// findWorkerBinary locates the nudge-worker binary: next to the current
// executable first, then ~/.nudge/bin, then PATH.
func findWorkerBinary() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "nudge-worker")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".nudge", "bin", "nudge-worker")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if path, err := exec.LookPath("nudge-worker"); err == nil {
		return path
	}

	return ""
}

// EnsureWorkerRunning makes sure a worker of the current version answers on
// the configured port, spawning or replacing one as needed. Returns the port.
func EnsureWorkerRunning() (int, error) {
	port := GetWorkerPort()

	if IsWorkerRunning(port) {
		running := GetWorkerVersion(port)
		if running == "" || running == Version {
			return port, nil
		}
		// Version mismatch after an upgrade: replace the stale worker.
		if err := KillProcessOnPort(port); err != nil {
			return 0, fmt.Errorf("failed to stop stale worker: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	} else if IsPortInUse(port) {
		return 0, fmt.Errorf("port %d is in use by another process", port)
	}

	binary := findWorkerBinary()
	if binary == "" {
		return 0, fmt.Errorf("nudge-worker binary not found")
	}

	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(), "NUDGE_INTERNAL=1")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start worker: %w", err)
	}
	// Detach; the worker outlives the hook.
	_ = cmd.Process.Release()

	deadline := time.Now().Add(workerStartTimeout)
	for time.Now().Before(deadline) {
		if IsWorkerRunning(port) {
			return port, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return 0, fmt.Errorf("worker did not become healthy within %v", workerStartTimeout)
}

// PostEvent posts a JSON payload to a worker API path. Hook binaries use it
// to report session lifecycle events.
func PostEvent(port int, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(
		fmt.Sprintf("http://127.0.0.1:%d%s", port, path),
		"application/json",
		bytes.NewReader(data),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}

// GetJSON fetches a worker API path and decodes the JSON response into out.
func GetJSON(port int, path string, out interface{}) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
