package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ai-tutor-go/internal/config"
)

const testConfig = `
server:
  mode: test
log:
  level: error
database:
  driver: memory
jwt:
  secret: test-secret
llm:
  api_key: sk-test
speech:
  credentials_json: ""
auth:
  primary_admin: root
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigCommandMasksSecrets(t *testing.T) {
	out, err := run(t, "config", "--config", writeConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "test-secret") || strings.Contains(out, "sk-test") {
		t.Errorf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, "driver: memory") {
		t.Errorf("expected effective config, got:\n%s", out)
	}
}

func TestSetupUsersSeedsPrimaryAdmin(t *testing.T) {
	out, err := run(t, "setup-users", "--config", writeConfig(t), "--password", "changeme")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "CREATE TABLE IF NOT EXISTS users") {
		t.Error("DDL not printed")
	}
	if !strings.Contains(out, `primary admin "root" created`) {
		t.Errorf("admin not created:\n%s", out)
	}
}

func TestSetupUsersWithoutPasswordOrTerminal(t *testing.T) {
	setupPassword = ""
	_, err := run(t, "setup-users", "--config", writeConfig(t), "--no-ddl")
	if err == nil {
		t.Fatal("expected an error when no password can be read")
	}
}

func TestBuildAppServesHealth(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("GOOGLE_CREDENTIALS_JSON", "")
	cfg, err := config.Load(writeConfig(t))
	if err != nil {
		t.Fatal(err)
	}

	a, err := buildApp(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: got %d", w.Code)
	}
}

func TestBuildAppRejectsRedisSessionsWithoutRedis(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Session.Store = "redis"
	if _, err := buildApp(context.Background(), cfg); err == nil {
		t.Fatal("expected a configuration error")
	}
}
