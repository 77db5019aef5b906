package store

import (
	"time"

	"planboard/api/internal/usercontext"
)

type User struct {
	ID                    string
	Email                 string
	FullName              string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile holds the organizational fields the snapshot builder reads at
// write time. One row per user, editable at any time; edits never touch
// the snapshots already stored on interactions.
type Profile struct {
	UserID         string
	Department     string
	CompanyRole    string
	CompanyName    string
	YearsAtCompany int
	YearsInRole    int
	YearsInDept    int
	UpdatedAt      time.Time
}

// Comment is an append-only remark on a section. No edit or delete.
type Comment struct {
	ID        string
	Section   string
	SectionID string
	UserID    string
	Content   string
	Context   usercontext.Snapshot
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Question carries an optional answer that may be set exactly once.
type Question struct {
	ID        string
	Section   string
	SectionID string
	UserID    string
	Content   string
	Answer    *string
	Context   usercontext.Snapshot
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Like is a toggleable reaction. At most one row per (section, user_id),
// enforced by a unique index.
type Like struct {
	ID        string
	Section   string
	SectionID string
	UserID    string
	Reaction  string
	Context   usercontext.Snapshot
	CreatedAt time.Time
}

// Approval is one entry in a user's append-only decision history for a
// section. The current status is the most recent entry.
type Approval struct {
	ID        string
	Section   string
	SectionID string
	UserID    string
	Status    string
	Comments  string
	Context   usercontext.Snapshot
	CreatedAt time.Time
	UpdatedAt time.Time
}
