// Package doctor runs offline diagnostics over a relay deployment: config,
// record store, writable directories, secrets and DNS for both APIs.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/clickgram/internal/base"
	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/persistence"
	"github.com/basket/clickgram/internal/secrets"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks. loadErr is the error config.Load
// returned, if any; cfg is then whatever it produced.
func Run(ctx context.Context, cfg *config.Config, loadErr error, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}
	d.Results = append(d.Results, checkConfig(cfg, loadErr))
	if loadErr != nil {
		cfg = nil
	}
	checks := []func(context.Context, *config.Config) CheckResult{
		checkDatabase,
		checkPermissions,
		checkSecrets,
		checkNetwork,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(cfg *config.Config, loadErr error) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if loadErr != nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: loadErr.Error(), Detail: cfg.Path}
	}
	if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: fmt.Sprintf("%s not found, using defaults", cfg.Path)}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", cfg.Path), Detail: cfg.Fingerprint()}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	driver, name, closeFn, err := persistence.Open(cfg.Database)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer closeFn()

	records, err := driver.Load(ctx)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CheckResult{Name: "Database", Status: StatusWarn, Message: fmt.Sprintf("%s store not created yet", name), Detail: cfg.Database.Path}
	case err != nil:
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Load failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: StatusPass, Message: fmt.Sprintf("%s store holds %d records", name, len(records)), Detail: duplicates(records)}
}

// duplicates describes chats or tasks that appear in more than one row.
func duplicates(records []base.Record) string {
	chats := map[string]int{}
	tasks := map[string]int{}
	for _, r := range records {
		chats[r.Chat]++
		tasks[r.Task]++
	}
	var out []string
	for id, n := range chats {
		if n > 1 {
			out = append(out, fmt.Sprintf("chat %s x%d", id, n))
		}
	}
	for id, n := range tasks {
		if n > 1 {
			out = append(out, fmt.Sprintf("task %s x%d", id, n))
		}
	}
	return strings.Join(out, ", ")
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	dirs := []string{cfg.LogDir}
	if cfg.Database.Driver != "postgres" {
		dirs = append(dirs, filepath.Dir(cfg.Database.Path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("%s unusable: %v", dir, err)}
		}
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
			return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("%s unwritable: %v", dir, err)}
		}
		_ = os.Remove(testFile)
	}
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Directories writable", Detail: strings.Join(dirs, ", ")}
}

func checkSecrets(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Secrets", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.Secrets.AgeIdentity != "" {
		if _, err := secrets.ReadIdentities(cfg.Secrets.AgeIdentity); err != nil {
			return CheckResult{Name: "Secrets", Status: StatusFail, Message: err.Error()}
		}
	}
	loader := secrets.NewLoader(cfg.Secrets, nil)
	if _, err := os.Stat(loader.Path()); errors.Is(err, fs.ErrNotExist) {
		return CheckResult{
			Name:    "Secrets",
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not present; the relay waits for it at startup", loader.Path()),
		}
	}
	creds, err := loader.Read()
	if err != nil {
		return CheckResult{Name: "Secrets", Status: StatusFail, Message: err.Error()}
	}
	var missing []string
	if creds.TelegramToken == "" {
		missing = append(missing, "telegramToken")
	}
	if creds.ClickUpToken == "" {
		missing = append(missing, "clickupToken")
	}
	if len(missing) > 0 {
		return CheckResult{Name: "Secrets", Status: StatusFail, Message: "Credentials incomplete", Detail: "missing " + strings.Join(missing, ", ")}
	}
	return CheckResult{Name: "Secrets", Status: StatusPass, Message: "Credentials readable"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var details []string
	for _, raw := range []string{cfg.Telegram.APIEndpoint, cfg.ClickUp.APIURL} {
		host := hostOf(raw)
		if host == "" {
			continue
		}
		start := time.Now()
		addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
		latency := time.Since(start)
		if err != nil {
			return CheckResult{
				Name:    "Network",
				Status:  StatusFail,
				Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
				Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
			}
		}
		details = append(details, fmt.Sprintf("%s: %d addresses, %dms", host, len(addrs), latency.Milliseconds()))
	}
	return CheckResult{Name: "Network", Status: StatusPass, Message: fmt.Sprintf("Resolved %d API hosts", len(details)), Detail: strings.Join(details, "; ")}
}

// hostOf extracts the host from an endpoint that may still hold format
// verbs, so url.Parse cannot be used.
func hostOf(endpoint string) string {
	_, rest, ok := strings.Cut(endpoint, "://")
	if !ok {
		return ""
	}
	hostport, _, _ := strings.Cut(rest, "/")
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
