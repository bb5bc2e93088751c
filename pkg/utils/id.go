package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// Counter for sequential IDs
	idCounter uint64
)

// GenerateID generates a unique, roughly time-ordered ID
func GenerateID() string {
	count := atomic.AddUint64(&idCounter, 1)
	timestamp := time.Now().UnixNano()
	return fmt.Sprintf("%x-%x", timestamp, count)
}

// GenerateSessionID generates an ID for one tuning session
func GenerateSessionID() string {
	return "sess_" + uuid.New().String()
}

// GenerateBatchID generates a short ID for a measurement batch
func GenerateBatchID() string {
	return "batch_" + uuid.New().String()[:8]
}
