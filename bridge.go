package devicehub

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Default per-command deadlines. Timeouts are enforced here with a hard
// process kill, never left to the bridge's own behavior.
const (
	probeTimeout      = 5 * time.Second
	propertyTimeout   = 5 * time.Second
	listTimeout       = 10 * time.Second
	disconnectTimeout = 10 * time.Second
	screenshotTimeout = 10 * time.Second
	connectTimeout    = 30 * time.Second
)

// BridgeTimeouts overrides the per-command deadlines. Zero fields keep the
// defaults above.
type BridgeTimeouts struct {
	Probe      time.Duration
	Property   time.Duration
	List       time.Duration
	Disconnect time.Duration
	Screenshot time.Duration
	Connect    time.Duration
}

func (t BridgeTimeouts) withDefaults() BridgeTimeouts {
	if t.Probe <= 0 {
		t.Probe = probeTimeout
	}
	if t.Property <= 0 {
		t.Property = propertyTimeout
	}
	if t.List <= 0 {
		t.List = listTimeout
	}
	if t.Disconnect <= 0 {
		t.Disconnect = disconnectTimeout
	}
	if t.Screenshot <= 0 {
		t.Screenshot = screenshotTimeout
	}
	if t.Connect <= 0 {
		t.Connect = connectTimeout
	}
	return t
}

// DeviceInfo is one entry from bridge discovery, before it is reconciled
// into the registry.
type DeviceInfo struct {
	DeviceID  string       `json:"device_id"`
	Name      string       `json:"name"`
	OSVersion string       `json:"os_version"`
	Status    DeviceStatus `json:"status"`
	IPAddress string       `json:"ip_address,omitempty"`
	Port      int          `json:"port,omitempty"`
}

// BridgeConfig carries the explicit settings for a BridgeClient. No global
// config record: the executable path is injected at construction.
type BridgeConfig struct {
	// Path to the bridge executable. Empty means "adb" resolved via $PATH.
	Path string
	// Timeouts overrides the per-command deadlines; zero fields keep defaults.
	Timeouts BridgeTimeouts
}

// BridgeClient wraps the device command-bridge executable. It is stateless
// apart from the cached result of the one-time version probe.
type BridgeClient struct {
	path     string
	timeouts BridgeTimeouts

	probeOnce sync.Once
	probeErr  error
}

// NewBridgeClient builds a client for the configured executable. The
// executable is validated lazily, on first real use.
func NewBridgeClient(cfg BridgeConfig) *BridgeClient {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "adb"
	}
	return &BridgeClient{path: path, timeouts: cfg.Timeouts.withDefaults()}
}

// probe runs `<bridge> version` once and caches the outcome. A missing
// executable or probe timeout is a configuration error, reported distinctly
// from per-command failures. The probe validates configuration, not any one
// request, so it runs on its own context: a caller that cancels mid-probe
// must not poison the cached result for the life of the process.
func (c *BridgeClient) probe() error {
	c.probeOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), c.timeouts.Probe)
		defer cancel()
		cmd := exec.CommandContext(probeCtx, c.path, "version")
		if err := cmd.Run(); err != nil {
			if probeCtx.Err() == context.DeadlineExceeded {
				c.probeErr = ErrBridgeProbeTimeout
				return
			}
			// Lookup failures surface as *exec.Error, a bad absolute path as
			// a fork/exec PathError with ENOENT.
			var execErr *exec.Error
			if errors.As(err, &execErr) || errors.Is(err, os.ErrNotExist) {
				c.probeErr = errors.Wrapf(ErrBridgeNotFound, "path %q", c.path)
				return
			}
			c.probeErr = errors.Wrapf(err, "bridge version probe failed for %q", c.path)
		}
	})
	return c.probeErr
}

// run executes one bridge command with the given deadline and returns stdout.
func (c *BridgeClient) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if err := c.probe(); err != nil {
		return nil, err
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, c.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		name := strings.Join(args, " ")
		// The caller going away is not a device failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, &CommandTimeoutError{Command: name, Timeout: timeout}
		}
		return nil, &CommandFailedError{Command: name, Stderr: strings.TrimSpace(stderr.String())}
	}
	return stdout.Bytes(), nil
}

// ListDevices enumerates devices via `devices -l`. Malformed lines are
// skipped. Online devices are enriched with model name and OS version
// through secondary property lookups; enrichment failures never fail the
// listing.
func (c *BridgeClient) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	output, err := c.run(ctx, c.timeouts.List, "devices", "-l")
	if err != nil {
		return nil, err
	}
	devices := parseDeviceList(string(output))
	for i := range devices {
		if devices[i].Status != DeviceStatusOnline {
			continue
		}
		c.enrichDevice(ctx, &devices[i])
	}
	return devices, nil
}

// parseDeviceList parses `devices -l` output: one device per line after the
// header, `<id> <state> [key:value ...]`.
func parseDeviceList(output string) []DeviceInfo {
	var devices []DeviceInfo
	for i, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		info := DeviceInfo{
			DeviceID: fields[0],
			Status:   DeviceStatusOffline,
		}
		if fields[1] == "device" {
			info.Status = DeviceStatusOnline
		}
		for _, field := range fields[2:] {
			if model, ok := strings.CutPrefix(field, "model:"); ok {
				info.Name = strings.ReplaceAll(model, "_", " ")
			}
		}
		if strings.Contains(info.DeviceID, ":") {
			info.IPAddress, info.Port = splitDeviceAddress(info.DeviceID)
		}
		devices = append(devices, info)
	}
	return devices
}

// enrichDevice fills in model name and OS version, best effort.
func (c *BridgeClient) enrichDevice(ctx context.Context, info *DeviceInfo) {
	if info.Name == "" {
		if model, err := c.getProperty(ctx, info.DeviceID, "ro.product.model"); err == nil {
			info.Name = model
		} else {
			log.Debug().Err(err).Str("device_id", info.DeviceID).Msg("model lookup failed")
		}
	}
	if version, err := c.getProperty(ctx, info.DeviceID, "ro.build.version.release"); err == nil {
		info.OSVersion = version
	} else {
		log.Debug().Err(err).Str("device_id", info.DeviceID).Msg("os version lookup failed")
	}
}

func (c *BridgeClient) getProperty(ctx context.Context, deviceID, key string) (string, error) {
	output, err := c.run(ctx, c.timeouts.Property, "-s", deviceID, "shell", "getprop", key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// Connect attaches a remote device via `connect addr:port`. The bridge exits
// zero even on failure, so success is judged by the textual reply.
func (c *BridgeClient) Connect(ctx context.Context, address string, port int) (DeviceInfo, error) {
	if port <= 0 {
		port = defaultRemotePort
	}
	target := fmt.Sprintf("%s:%d", address, port)
	output, err := c.run(ctx, c.timeouts.Connect, "connect", target)
	if err != nil {
		return DeviceInfo{}, err
	}
	reply := strings.TrimSpace(string(output))
	// "connected to ..." and "already connected to ..." both mean success.
	if !strings.Contains(strings.ToLower(reply), "connected") {
		return DeviceInfo{}, &CommandFailedError{Command: "connect " + target, Stderr: reply}
	}
	info := DeviceInfo{
		DeviceID:  target,
		Status:    DeviceStatusOnline,
		IPAddress: address,
		Port:      port,
	}
	c.enrichDevice(ctx, &info)
	return info, nil
}

// Disconnect detaches a remote device. Callers get a boolean, never an
// error: a failed disconnect leaves nothing actionable to do.
func (c *BridgeClient) Disconnect(ctx context.Context, deviceID string) bool {
	_, err := c.run(ctx, c.timeouts.Disconnect, "disconnect", deviceID)
	if err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).Msg("bridge disconnect failed")
		return false
	}
	return true
}

// Screenshot captures the device screen via `exec-out screencap -p` and
// returns the PNG bytes verbatim.
func (c *BridgeClient) Screenshot(ctx context.Context, deviceID string) ([]byte, error) {
	output, err := c.run(ctx, c.timeouts.Screenshot, "-s", deviceID, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(output) == 0 {
		return nil, &CommandFailedError{Command: "screencap " + deviceID, Stderr: "empty screenshot output"}
	}
	return output, nil
}
