package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func tokenFilePath(dataDir string) string {
	return filepath.Join(dataDir, "api-token")
}

// EnsureAPIToken returns the bearer token for the local API. The environment
// override (PLANFORGE_API_TOKEN) wins; otherwise a token is read from the
// data directory, generated on first use. The CLI and the server resolve the
// token the same way so they always agree.
func EnsureAPIToken(dataDir string) (string, error) {
	if v := os.Getenv("PLANFORGE_API_TOKEN"); v != "" {
		return v, nil
	}

	path := tokenFilePath(dataDir)
	if data, err := os.ReadFile(path); err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing API token: %w", err)
	}
	return token, nil
}
