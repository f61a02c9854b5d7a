package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/clickgram/internal/doctor"
)

func writeDoctorConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body = strings.ReplaceAll(body, "$DIR", dir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const doctorConfig = `log_dir: $DIR/logs
database:
  path: $DIR/db/database.tsv
secrets:
  dir: $DIR/sops
telegram:
  api_endpoint: http://localhost/bot%s/%s
clickup:
  api_url: http://localhost/api/v2
`

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	path := writeDoctorConfig(t, doctorConfig)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"doctor", "--json", "-c", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code = %d, stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	var diag doctor.Diagnosis
	if err := json.Unmarshal(stdout.Bytes(), &diag); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if diag.System.Version != Version || len(diag.Results) != 5 {
		t.Fatalf("diagnosis = %+v", diag)
	}
}

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	path := writeDoctorConfig(t, doctorConfig)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"doctor", "-c", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("code = %d, stdout=%s", code, stdout.String())
	}
	out := stdout.String()
	for _, want := range []string{"clickgram doctor", "[PASS] Config", "[WARN] Secrets"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunDoctorCommand_BadConfigFails(t *testing.T) {
	path := writeDoctorConfig(t, "port: eighty\n")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"doctor", "-c", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "[FAIL] Config") {
		t.Fatalf("report = %s", stdout.String())
	}
}
