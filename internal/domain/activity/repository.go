package activity

import (
	"context"
	"time"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
)

// Catalog is the read port over activity definitions.
type Catalog interface {
	// Add appends an activity; the store assigns Seq.
	Add(ctx context.Context, a *Activity) error

	// Get returns shared.ErrActivityNotFound when missing.
	Get(ctx context.Context, id string) (*Activity, error)

	// List returns the catalog in insertion order.
	List(ctx context.Context) ([]Activity, error)

	// ListBySkill returns one skill's activities in insertion order.
	ListBySkill(ctx context.Context, skill shared.Skill) ([]Activity, error)
}

// CompletionLog is the append-only completion store.
type CompletionLog interface {
	Append(ctx context.Context, c Completion) error

	// History returns every completion of the user at or before asOf,
	// ordered by CompletedAt ascending.
	History(ctx context.Context, userID string, asOf time.Time) (History, error)
}

// AttendanceLog stores group-session participation.
type AttendanceLog interface {
	AddSession(ctx context.Context, s GroupSession) error

	// RecordAttendance is idempotent per (session, user).
	RecordAttendance(ctx context.Context, a Attendance) error

	// Attendance returns the user's attendance at or before asOf.
	Attendance(ctx context.Context, userID string, asOf time.Time) ([]Attendance, error)
}
