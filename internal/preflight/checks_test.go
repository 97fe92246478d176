package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"parley/internal/config"
	"parley/internal/database"
)

func setupPreflightTest(t *testing.T, initialize bool) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "preflight.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if initialize {
		if err := db.Initialize(); err != nil {
			t.Fatalf("Failed to initialize test database: %v", err)
		}
	}
	return db
}

func findResult(results []CheckResult, name string) CheckResult {
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	return CheckResult{}
}

func TestRunAll_HealthyDevelopment(t *testing.T) {
	db := setupPreflightTest(t, true)
	cfg := &config.Config{
		Environment:      "development",
		InferenceAPIKey:  "sk-test",
		InferenceModel:   "gpt-4o-mini",
		InferenceBaseURL: "https://api.openai.com/v1",
		GroqAPIKey:       "gsk-test",
	}

	results := NewChecker(db, cfg).RunAll(context.Background())
	if HasFailures(results) {
		t.Fatalf("Expected no failures, got %+v", results)
	}
	if r := findResult(results, "Database Schema"); r.Status != "pass" {
		t.Errorf("Expected schema pass, got %+v", r)
	}
	if r := findResult(results, "Internal RPC"); r.Status != "warning" {
		t.Errorf("Expected RPC warning without a secret, got %+v", r)
	}
}

func TestCheckDatabaseSchema_MissingTables(t *testing.T) {
	db := setupPreflightTest(t, false)
	checker := NewChecker(db, &config.Config{})

	result := checker.checkDatabaseSchema(context.Background())
	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
}

func TestCheckInference_ProductionRequiresKey(t *testing.T) {
	db := setupPreflightTest(t, true)

	dev := NewChecker(db, &config.Config{Environment: "development"}).checkInference()
	if dev.Status != "warning" {
		t.Errorf("Expected warning in development, got %s", dev.Status)
	}

	prod := NewChecker(db, &config.Config{Environment: "production"}).checkInference()
	if prod.Status != "fail" {
		t.Errorf("Expected fail in production, got %s", prod.Status)
	}
}

func TestCheckPromptsFile(t *testing.T) {
	db := setupPreflightTest(t, true)

	missing := NewChecker(db, &config.Config{PromptsFile: filepath.Join(t.TempDir(), "nope.yaml")}).checkPromptsFile()
	if missing.Status != "warning" {
		t.Errorf("Expected warning for missing prompts file, got %s", missing.Status)
	}

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("system: be brief\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	present := NewChecker(db, &config.Config{PromptsFile: path}).checkPromptsFile()
	if present.Status != "pass" {
		t.Errorf("Expected pass for readable prompts file, got %s", present.Status)
	}
}

func TestHasFailures(t *testing.T) {
	if HasFailures([]CheckResult{{Status: "pass"}, {Status: "warning"}}) {
		t.Error("Warnings must not count as failures")
	}
	if !HasFailures([]CheckResult{{Status: "pass"}, {Status: "fail"}}) {
		t.Error("Expected failure to be detected")
	}
}
