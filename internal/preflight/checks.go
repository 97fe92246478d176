package preflight

import (
	"context"
	"fmt"
	"log"
	"os"

	"parley/internal/config"
	"parley/internal/database"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	db  *database.DB
	cfg *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(db *database.DB, cfg *config.Config) *Checker {
	return &Checker{db: db, cfg: cfg}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(ctx),
		c.checkDatabaseSchema(ctx),
		c.checkPromptsFile(),
		c.checkInference(),
		c.checkTranscription(),
		c.checkInternalRPC(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)
	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkDatabaseConnection(ctx context.Context) CheckResult {
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{
			Name:    "Database Connection",
			Status:  "fail",
			Message: "Cannot connect to database",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Database Connection",
		Status:  "pass",
		Message: fmt.Sprintf("%s connection successful", c.db.Dialect),
	}
}

// checkDatabaseSchema verifies the transcript tables exist
func (c *Checker) checkDatabaseSchema(ctx context.Context) CheckResult {
	requiredTables := []string{
		"conversations",
		"conversation_messages",
		"conversation_summaries",
	}

	query := "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	if c.db.Dialect == database.DialectSQLite {
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}

	for _, table := range requiredTables {
		var count int
		err := c.db.QueryRowContext(ctx, query, table).Scan(&count)
		if err != nil || count == 0 {
			return CheckResult{
				Name:    "Database Schema",
				Status:  "fail",
				Message: fmt.Sprintf("Required table '%s' not found", table),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Database Schema",
		Status:  "pass",
		Message: fmt.Sprintf("All %d required tables exist", len(requiredTables)),
	}
}

func (c *Checker) checkPromptsFile() CheckResult {
	if c.cfg.PromptsFile == "" {
		return CheckResult{
			Name:    "Prompts",
			Status:  "pass",
			Message: "Using built-in prompts",
		}
	}

	if _, err := os.Stat(c.cfg.PromptsFile); err != nil {
		return CheckResult{
			Name:    "Prompts",
			Status:  "warning",
			Message: fmt.Sprintf("%s not readable, falling back to built-in prompts", c.cfg.PromptsFile),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Prompts",
		Status:  "pass",
		Message: fmt.Sprintf("Loaded from %s (hot reload enabled)", c.cfg.PromptsFile),
	}
}

func (c *Checker) checkInference() CheckResult {
	if c.cfg.InferenceAPIKey == "" {
		status := "warning"
		if c.cfg.Environment == "production" {
			status = "fail"
		}
		return CheckResult{
			Name:    "Inference",
			Status:  status,
			Message: "INFERENCE_API_KEY not set, requests to " + c.cfg.InferenceBaseURL + " are unauthenticated",
		}
	}

	return CheckResult{
		Name:    "Inference",
		Status:  "pass",
		Message: fmt.Sprintf("%s via %s", c.cfg.InferenceModel, c.cfg.InferenceBaseURL),
	}
}

func (c *Checker) checkTranscription() CheckResult {
	if c.cfg.GroqAPIKey == "" && c.cfg.OpenAIAPIKey == "" {
		return CheckResult{
			Name:    "Transcription",
			Status:  "warning",
			Message: "No GROQ_API_KEY or OPENAI_API_KEY, voice messages will be rejected",
		}
	}

	return CheckResult{
		Name:    "Transcription",
		Status:  "pass",
		Message: "Voice transcription configured",
	}
}

func (c *Checker) checkInternalRPC() CheckResult {
	if c.cfg.InternalRPCSecret == "" {
		if c.cfg.Environment == "production" {
			return CheckResult{
				Name:    "Internal RPC",
				Status:  "warning",
				Message: "INTERNAL_RPC_SECRET not set, /agent routes will refuse all calls",
			}
		}
		return CheckResult{
			Name:    "Internal RPC",
			Status:  "warning",
			Message: "INTERNAL_RPC_SECRET not set, /agent routes are open",
		}
	}

	return CheckResult{
		Name:    "Internal RPC",
		Status:  "pass",
		Message: "Service token auth enabled",
	}
}
