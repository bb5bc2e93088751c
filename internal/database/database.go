// Package database persists measured schedules per task signature. History is
// append-only: records are never updated or deleted.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("database is closed")

// Record is one measured schedule
type Record struct {
	ID           int64     `json:"id"`
	Signature    string    `json:"signature"`
	TaskName     string    `json:"task_name"`
	ScheduleKey  string    `json:"schedule_key"`
	ScheduleJSON []byte    `json:"schedule"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRecord encodes s into a record for the given task
func NewRecord(signature, taskName string, s schedule.Schedule, cost float64) (Record, error) {
	data, err := s.Encode()
	if err != nil {
		return Record{}, fmt.Errorf("encode schedule: %w", err)
	}
	return Record{
		Signature:    signature,
		TaskName:     taskName,
		ScheduleKey:  s.Key(),
		ScheduleJSON: data,
		Cost:         cost,
	}, nil
}

// Schedule decodes the stored schedule
func (r Record) Schedule() (schedule.Schedule, error) {
	return schedule.Decode(r.ScheduleJSON)
}

// Database is the tuning history store. Implementations must be safe for
// concurrent use by several tuning sessions.
type Database interface {
	// Insert appends a record. Inserting a record with the same signature,
	// schedule key and cost as an existing one is a no-op.
	Insert(ctx context.Context, rec Record) error
	// Lookup returns the history of a signature in insertion order. An unknown
	// signature yields an empty history, not an error.
	Lookup(ctx context.Context, signature string) ([]Record, error)
	// TopK returns up to k records with the lowest cost, best first
	TopK(ctx context.Context, signature string, k int) ([]Record, error)
	Count(ctx context.Context, signature string) (int, error)
	Signatures(ctx context.Context) ([]string, error)
	Close() error
}

// ModelStore persists opaque cost model snapshots by name
type ModelStore interface {
	SaveModel(ctx context.Context, name string, data []byte) error
	// LoadModel returns nil data and no error when no snapshot exists
	LoadModel(ctx context.Context, name string) ([]byte, error)
}

type dedupKey struct {
	key  string
	cost float64
}
