package domain

import "time"

// SecurityEvent is one security-relevant event: logins, refresh rotations,
// theft detections, family revocations, consent grants.
type SecurityEvent struct {
	ID        string
	OrgID     string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
