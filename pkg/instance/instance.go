package instance

import "os"

// GetID identifies the running process in logs and lock ownership. DYNO wins
// over WORKER_ID; local runs fall back to "local".
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
