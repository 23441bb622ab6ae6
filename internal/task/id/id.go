// Package id provides unique identifier generation for tasks.
package id

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Generate creates a new unique task ID.
// Format: task-<timestamp>-<shortuuid>
// Example: task-1701432000-mwLWcmWvtYZALa6K2SchSE
func Generate() string {
	return fmt.Sprintf("task-%d-%s", time.Now().Unix(), shortuuid.New())
}
