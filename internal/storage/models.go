package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is a prepared narrative stored for grounded answering and quiz
// generation. Content arrives as plain text; extraction happens upstream.
type Document struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// FidelitySample is one offline fidelity measurement of a refined answer
// against its original transcript.
type FidelitySample struct {
	ID             string
	SessionID      string
	Score          float64
	ViolationsJSON string // JSON array stored as text
	CreatedAt      time.Time
}
