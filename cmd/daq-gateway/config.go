package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	endpoint        string // "stream" or "serial"
	streamAddr      string
	serialDev       string
	baud            int
	readTimeout     time.Duration
	dialTimeout     time.Duration
	controlAddr     string
	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	dataDir         string
	filePrefix      string
	fileExt         string
	maxFiles        int
	burstCapacity   int
	mdnsEnable      bool
	mdnsName        string
	corsEnable      bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	endpoint := flag.String("endpoint", "serial", "Device transport: serial|stream")
	streamAddr := flag.String("stream-addr", "127.0.0.1:9000", "TCP address of the device (when --endpoint=stream)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --endpoint=serial)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	readTimeout := flag.Duration("read-timeout", 50*time.Millisecond, "Transport read poll window")
	dialTimeout := flag.Duration("dial-timeout", 3*time.Second, "Stream dial timeout")
	controlAddr := flag.String("control-addr", ":8080", "HTTP control/fanout listen address")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP listen address (e.g., :9100); empty disables")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	dataDir := flag.String("data-dir", "./data", "Root directory for saved files and trigger exports")
	filePrefix := flag.String("file-prefix", "capture", "Default auto-generated filename prefix")
	fileExt := flag.String("file-ext", ".bin", "Default auto-generated filename extension")
	maxFiles := flag.Int("max-files", 200, "Retention limit for root-level saved files (0 disables cleanup)")
	burstCapacity := flag.Int("burst-capacity", 10, "Completed trigger-burst cache size")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the control endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default daq-gateway-<hostname>)")
	corsEnable := flag.Bool("cors-enable", true, "Allow cross-origin requests to the control/fanout HTTP surface")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.endpoint = *endpoint
	cfg.streamAddr = *streamAddr
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.readTimeout = *readTimeout
	cfg.dialTimeout = *dialTimeout
	cfg.controlAddr = *controlAddr
	cfg.metricsAddr = *metricsAddr
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.dataDir = *dataDir
	cfg.filePrefix = *filePrefix
	cfg.fileExt = *fileExt
	cfg.maxFiles = *maxFiles
	cfg.burstCapacity = *burstCapacity
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.corsEnable = *corsEnable

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners -- only checks ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.endpoint {
	case "serial", "stream":
	default:
		return fmt.Errorf("invalid endpoint: %s", c.endpoint)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.readTimeout <= 0 {
		return errors.New("read-timeout must be > 0")
	}
	if c.dialTimeout <= 0 {
		return errors.New("dial-timeout must be > 0")
	}
	if c.maxFiles < 0 {
		return errors.New("max-files must be >= 0")
	}
	if c.burstCapacity <= 0 {
		return errors.New("burst-capacity must be > 0")
	}
	return nil
}

// applyEnvOverrides maps DAQ_GATEWAY_* environment variables onto cfg unless
// the corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["endpoint"]; !ok {
		if v, ok := get("DAQ_GATEWAY_ENDPOINT"); ok && v != "" {
			c.endpoint = v
		}
	}
	if _, ok := set["stream-addr"]; !ok {
		if v, ok := get("DAQ_GATEWAY_STREAM_ADDR"); ok && v != "" {
			c.streamAddr = v
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("DAQ_GATEWAY_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("DAQ_GATEWAY_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DAQ_GATEWAY_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["control-addr"]; !ok {
		if v, ok := get("DAQ_GATEWAY_CONTROL_ADDR"); ok && v != "" {
			c.controlAddr = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("DAQ_GATEWAY_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("DAQ_GATEWAY_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("DAQ_GATEWAY_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["data-dir"]; !ok {
		if v, ok := get("DAQ_GATEWAY_DATA_DIR"); ok && v != "" {
			c.dataDir = v
		}
	}
	if _, ok := set["max-files"]; !ok {
		if v, ok := get("DAQ_GATEWAY_MAX_FILES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxFiles = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DAQ_GATEWAY_MAX_FILES: %w", err)
			}
		}
	}
	if _, ok := set["burst-capacity"]; !ok {
		if v, ok := get("DAQ_GATEWAY_BURST_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.burstCapacity = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DAQ_GATEWAY_BURST_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("DAQ_GATEWAY_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("DAQ_GATEWAY_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("DAQ_GATEWAY_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DAQ_GATEWAY_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
