package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "test_config.json")

	testConfig := map[string]interface{}{
		"db": map[string]interface{}{
			"host": "localhost",
			"name": "retrack",
		},
		"smtp": map[string]interface{}{
			"host":     "smtp.example.com",
			"port":     587,
			"username": "test@example.com",
			"password": "testpassword",
			"from":     "test@example.com",
		},
	}

	configData, err := json.Marshal(testConfig)
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}

	if err := os.WriteFile(configFile, configData, 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.SMTP.Host != "smtp.example.com" {
		t.Errorf("Expected host 'smtp.example.com', got '%s'", cfg.SMTP.Host)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("Expected port 587, got %d", cfg.SMTP.Port)
	}
	if cfg.DB.Name != "retrack" {
		t.Errorf("Expected db.name 'retrack', got '%s'", cfg.DB.Name)
	}
	if cfg.Trackers.MaxRevisions != 10 {
		t.Errorf("Expected default trackers.max_revisions 10, got %d", cfg.Trackers.MaxRevisions)
	}
	if cfg.TaskQueue.WorkerCount != 10 {
		t.Errorf("Expected default task_queue.worker_count 10, got %d", cfg.TaskQueue.WorkerCount)
	}
}

func TestLoadConfigNonExistentFile(t *testing.T) {
	_, err := LoadConfig("non_existent_file.json")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid_config.json")

	if err := os.WriteFile(configFile, []byte("invalid json"), 0644); err != nil {
		t.Fatalf("Failed to write invalid config file: %v", err)
	}

	_, err := LoadConfig(configFile)
	if err == nil {
		t.Error("Expected error when loading invalid JSON config file")
	}
}

func TestLoadConfigMissingRequiredField(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "missing_db.json")

	if err := os.WriteFile(configFile, []byte(`{"smtp":{"host":"smtp.example.com"}}`), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := LoadConfig(configFile)
	if err == nil {
		t.Error("Expected validation error for missing db.host/db.name")
	}
}
