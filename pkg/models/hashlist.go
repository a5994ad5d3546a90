package models

import "time"

// HashList is the set of target hashes belonging to a project.
type HashList struct {
	ID           string
	ProjectID    string
	HashType     int
	ItemCount    int
	CrackedCount int
	Version      int64
}

// HashItem is a single target hash, optionally salted, within a HashList.
type HashItem struct {
	ID               string
	HashListID       string
	HashValue        string // canonical form
	Salt             *string
	Cracked          bool
	Plaintext        *string
	CrackedAt        *time.Time
	CrackedByTaskID  *string
}

// Crack records the first (and only) successful recovery of a HashItem.
type Crack struct {
	TaskID     string
	HashItemID string
	HashListID string
	Plaintext  string
	Timestamp  time.Time
	Serial     int64 // attack-scoped zap-list serial
}
