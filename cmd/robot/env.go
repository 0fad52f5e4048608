package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/elfolz/robot/internal/logging"
)

// loadEnvFile copies KEY=value lines from ~/.robot/.env into the process
// environment without overriding variables that are already set.
func loadEnvFile(syslog *logging.Logger) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	envPath := filepath.Join(home, ".robot", ".env")
	file, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer file.Close()

	var loaded []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			loaded = append(loaded, key)
		}
	}
	if len(loaded) > 0 {
		syslog.Info("env", "Loaded environment variables", map[string]interface{}{
			"source": filepath.Base(envPath),
			"keys":   strings.Join(loaded, ", "),
		})
	}
}
