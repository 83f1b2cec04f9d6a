package hooks

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultWorkerPort is the local port of the devark daemon API.
const DefaultWorkerPort = 37790

// GetWorkerPort returns the daemon port, honoring DEVARK_WORKER_PORT.
func GetWorkerPort() int {
	if v := os.Getenv("DEVARK_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return DefaultWorkerPort
}

// IsWorkerRunning probes the daemon health endpoint.
func IsWorkerRunning(port int) bool {
	client := &http.Client{Timeout: 300 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetJSON fetches a daemon endpoint and decodes the JSON body into v.
func GetJSON(port int, path string, timeout time.Duration, v any) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// PostJSON sends body to a daemon endpoint and decodes a JSON reply into v.
// A nil v discards the reply.
func PostJSON(port int, path string, timeout time.Duration, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(fmt.Sprintf("http://127.0.0.1:%d%s", port, path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
