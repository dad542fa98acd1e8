package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/faucetdb/keysmith/internal/hasher"
)

const testJWTSecret = "cli-test-secret-0123456789"

// run executes the root command with args against a fresh viper state and
// returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cfgFile = ""

	cmd := newRootCmd("test", "none", "unknown")
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KEYSMITH_STORE_DATA_DIR", dir)
	t.Setenv("KEYSMITH_AUTH_JWT_SECRET", testJWTSecret)
	return dir
}

func TestKeyLifecycle(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "", "key", "create", "--owner", "U1", "--name", "ci-bot")
	if err != nil {
		t.Fatalf("key create: %v", err)
	}
	raw := strings.TrimSpace(out)
	if !strings.HasPrefix(raw, "ks_") || len(raw) != 67 {
		t.Fatalf("key create printed %q, want only the raw key", out)
	}

	out, err = run(t, "", "key", "list", "--owner", "U1", "--json")
	if err != nil {
		t.Fatalf("key list: %v", err)
	}
	if strings.Contains(out, raw) {
		t.Fatal("key list printed the raw key")
	}
	var keys []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		KeyPrefix string `json:"key_prefix"`
	}
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode list: %v; out = %s", err, out)
	}
	if len(keys) != 1 || keys[0].Name != "ci-bot" || keys[0].KeyPrefix != raw[:8] {
		t.Fatalf("unexpected list: %+v", keys)
	}
	id := keys[0].ID

	out, err = run(t, raw+"\n", "key", "verify")
	if err != nil {
		t.Fatalf("key verify: %v", err)
	}
	if !strings.Contains(out, "U1") || !strings.Contains(out, id) {
		t.Errorf("verify output = %q", out)
	}
	if strings.Contains(out, raw) {
		t.Error("verify output repeats the raw key")
	}

	if _, err := run(t, "", "key", "rename", "--owner", "U1", id, "deploy"); err != nil {
		t.Fatalf("key rename: %v", err)
	}

	if _, err := run(t, "", "key", "delete", "--owner", "U2", id); err == nil {
		t.Fatal("another owner deleted the key")
	} else if err.Error() != "API key not found" {
		t.Errorf("cross-owner delete error = %q", err)
	}

	if _, err := run(t, "", "key", "delete", "--owner", "U1", id); err != nil {
		t.Fatalf("key delete: %v", err)
	}
	if _, err := run(t, "", "key", "verify", raw); err == nil {
		t.Fatal("deleted key still verifies")
	}
}

func TestKeyCreateValidation(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "key", "create", "--owner", "U1", "--name", "   ")
	if err == nil || !strings.Contains(err.Error(), "invalid name") {
		t.Fatalf("err = %v, want invalid name", err)
	}
}

func TestToken(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "", "token", "--owner", "U1", "--ttl", "10m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Errorf("token = %q, want a JWT", out)
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("KEYSMITH_STORE_DATA_DIR", t.TempDir())
	t.Setenv("KEYSMITH_AUTH_JWT_SECRET", "")

	if _, err := run(t, "", "token", "--owner", "U1"); err == nil {
		t.Fatal("expected error without auth.jwt_secret")
	}
	if _, err := run(t, "", "token", "--owner", "U1", "--dev"); err != nil {
		t.Fatalf("token --dev: %v", err)
	}
}

func TestPrintTokenRejectsNonPositiveTTL(t *testing.T) {
	issue := func(string, time.Duration) (string, error) { return "x", nil }
	if err := printToken(&bytes.Buffer{}, issue, "U1", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "keysmith.yaml")

	if _, err := run(t, "", "config", "init", "-o", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}
	if _, err := run(t, "", "config", "init", "-o", path); err == nil {
		t.Error("config init overwrote an existing file without --force")
	}

	out, err := run(t, "", "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, testJWTSecret) {
		t.Error("config show printed the JWT secret")
	}
	if !strings.Contains(out, "********") {
		t.Errorf("config show did not mask the JWT secret:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]interface{}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] != "test" {
		t.Errorf("version = %v", info["version"])
	}
}

func TestBenchVersions(t *testing.T) {
	all, err := benchVersions(0)
	if err != nil {
		t.Fatalf("benchVersions: %v", err)
	}
	if len(all) != len(hasher.DefaultParams) {
		t.Errorf("got %d versions, want %d", len(all), len(hasher.DefaultParams))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Version >= all[i].Version {
			t.Errorf("versions not sorted: %v", all)
		}
	}

	if _, err := benchVersions(999); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestBenchParams(t *testing.T) {
	p := hasher.Params{Version: 1, N: 16, R: 1, P: 1, KeyLen: 32, SaltLen: 16}
	res, err := benchParams(p, 20*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("benchParams: %v", err)
	}
	if res.Total == 0 || res.Errors != 0 {
		t.Errorf("total = %d, errors = %d", res.Total, res.Errors)
	}
	if res.percentile(50) > res.percentile(99) {
		t.Error("percentiles out of order")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{32 << 20, "32.00 MB"},
		{3 << 30, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
