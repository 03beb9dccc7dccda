package presence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions and presence records in Postgres. It
// implements both Ledger and Roster.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `session_id, student_id, present, ip, fingerprint_hash, lat, lon, user_agent, scan_time`

// Get returns the record for (session, student), creating an absent one on
// first access.
func (r *Repository) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (session_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, sessionID, studentID); err != nil {
		return Record{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM presence_records WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	return scanRecord(row)
}

// MarkPresent flips the record to present with its evidence. The conditional
// UPDATE guarded by present = FALSE is the atomic read-modify-write: under
// concurrent redemptions exactly one caller sees rows affected.
func (r *Repository) MarkPresent(ctx context.Context, sessionID, studentID string, ev Evidence) (Record, bool, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (session_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, sessionID, studentID); err != nil {
		return Record{}, false, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE presence_records
		SET present = TRUE,
			ip = NULLIF($3, ''),
			fingerprint_hash = NULLIF($4, ''),
			lat = $5, lon = $6,
			user_agent = NULLIF($7, ''),
			scan_time = $8
		WHERE session_id = $1 AND student_id = $2 AND present = FALSE
	`, sessionID, studentID, ev.IP, ev.FingerprintHash, ev.Lat, ev.Lon, ev.UserAgent, ev.At)
	if err != nil {
		return Record{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, err
	}

	rec, err := r.Get(ctx, sessionID, studentID)
	if err != nil {
		return Record{}, false, err
	}
	return rec, affected == 1, nil
}

// Override sets the flag in either direction; scan_time is stamped only the
// first time the record moves into present.
func (r *Repository) Override(ctx context.Context, sessionID, studentID string, present bool, at time.Time) (Record, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (session_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, sessionID, studentID); err != nil {
		return Record{}, err
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE presence_records
		SET present = $3,
			scan_time = CASE WHEN $3 AND scan_time IS NULL THEN $4 ELSE scan_time END
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID, present, at); err != nil {
		return Record{}, err
	}
	return r.Get(ctx, sessionID, studentID)
}

// List returns all records for a session ordered by student id.
func (r *Repository) List(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM presence_records WHERE session_id = $1
		ORDER BY student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Session resolves a session id.
func (r *Repository) Session(ctx context.Context, sessionID string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, opened_at FROM attendance_sessions WHERE id = $1
	`, sessionID)
	var s Session
	if err := row.Scan(&s.ID, &s.LectureID, &s.OpenedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// ActiveSession returns the lecture's most recent session, creating one on
// first access.
func (r *Repository) ActiveSession(ctx context.Context, lectureID string) (Session, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM lectures WHERE id = $1)
	`, lectureID).Scan(&exists); err != nil {
		return Session{}, err
	}
	if !exists {
		return Session{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, opened_at FROM attendance_sessions
		WHERE lecture_id = $1
		ORDER BY opened_at DESC
		LIMIT 1
	`, lectureID)
	var s Session
	err := row.Scan(&s.ID, &s.LectureID, &s.OpenedAt)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}

	s = Session{ID: uuid.NewString(), LectureID: lectureID}
	row = r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, lecture_id)
		VALUES ($1, $2)
		RETURNING opened_at
	`, s.ID, s.LectureID)
	if err := row.Scan(&s.OpenedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// IsEnrolled reports whether the student is enrolled in the lecture.
func (r *Repository) IsEnrolled(ctx context.Context, lectureID, studentID string) (bool, error) {
	var enrolled bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE lecture_id = $1 AND student_id = $2
		)
	`, lectureID, studentID).Scan(&enrolled)
	return enrolled, err
}

// IsInstructor reports whether the user teaches the lecture.
func (r *Repository) IsInstructor(ctx context.Context, lectureID, userID string) (bool, error) {
	var instructor bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lectures WHERE id = $1 AND instructor_id = $2
		)
	`, lectureID, userID).Scan(&instructor)
	return instructor, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.SessionID, &rec.StudentID, &rec.Present, &rec.IP,
		&rec.FingerprintHash, &rec.Lat, &rec.Lon, &rec.UserAgent, &rec.ScanTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}
