package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/shiftgate/kiosk/internal/core"
)

// PostgresStore is the durable RecordStore. BIGSERIAL ids give the
// monotonic append order the engine relies on.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects and verifies the database is reachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Printf("✅ Connected to Postgres record store")
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the attendance table and its day-query indexes.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id BIGSERIAL PRIMARY KEY,
			subject_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			method TEXT NOT NULL,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			late BOOLEAN NOT NULL DEFAULT FALSE,
			overtime_hours INT NOT NULL DEFAULT 0,
			shift_label TEXT NOT NULL DEFAULT '',
			location_name TEXT,
			location_address TEXT,
			location_category TEXT,
			emergency_reason TEXT,
			patched BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_subject_ts ON attendance_records (subject_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_ts ON attendance_records (ts)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) Append(ctx context.Context, rec core.AttendanceRecord) (core.AttendanceRecord, error) {
	var locName, locAddr, locCat, emergency sql.NullString
	if rec.Location != nil {
		locName = sql.NullString{String: rec.Location.Name, Valid: true}
		locAddr = sql.NullString{String: rec.Location.Address, Valid: true}
		locCat = sql.NullString{String: string(rec.Location.Category), Valid: true}
	}
	if rec.Emergency != nil {
		emergency = sql.NullString{String: rec.Emergency.Reason, Valid: true}
	}

	query := `INSERT INTO attendance_records
		(subject_id, ts, method, kind, direction, late, overtime_hours, shift_label,
		 location_name, location_address, location_category, emergency_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	err := p.db.QueryRowContext(ctx, query,
		rec.SubjectID, rec.Timestamp, string(rec.Method), string(rec.Kind), string(rec.Direction),
		rec.Late, rec.OvertimeHours, rec.ShiftLabel,
		locName, locAddr, locCat, emergency,
	).Scan(&rec.ID)
	if err != nil {
		return core.AttendanceRecord{}, classify(fmt.Errorf("failed to append record: %w", err))
	}
	return rec, nil
}

func (p *PostgresStore) Patch(ctx context.Context, id int64, patch Patch) (core.AttendanceRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return core.AttendanceRecord{}, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT subject_id, ts, patched FROM attendance_records WHERE id = $1 FOR UPDATE`, id)
	var subjectID string
	var ts time.Time
	var patched bool
	if err := row.Scan(&subjectID, &ts, &patched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.AttendanceRecord{}, ErrNotFound
		}
		return core.AttendanceRecord{}, classify(fmt.Errorf("failed to load record: %w", err))
	}
	if patched {
		return core.AttendanceRecord{}, ErrAlreadyPatched
	}

	// A later same-day record for the subject seals this one.
	dayStart := core.DayStart(ts)
	var sealed bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE subject_id = $1 AND id > $2 AND ts >= $3 AND ts < $4
		)`, subjectID, id, dayStart, dayStart.AddDate(0, 0, 1)).Scan(&sealed)
	if err != nil {
		return core.AttendanceRecord{}, classify(fmt.Errorf("failed to check seal: %w", err))
	}
	if sealed {
		return core.AttendanceRecord{}, ErrAlreadyPatched
	}

	set := `patched = TRUE`
	args := []interface{}{id}
	n := 2
	if patch.Location != nil {
		set += fmt.Sprintf(", location_name = $%d, location_address = $%d, location_category = $%d", n, n+1, n+2)
		args = append(args, patch.Location.Name, patch.Location.Address, string(patch.Location.Category))
		n += 3
	}
	if patch.Emergency != nil {
		set += fmt.Sprintf(", emergency_reason = $%d", n)
		args = append(args, patch.Emergency.Reason)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE attendance_records SET `+set+` WHERE id = $1`, args...); err != nil {
		return core.AttendanceRecord{}, classify(fmt.Errorf("failed to patch record: %w", err))
	}

	rec, err := p.loadTx(ctx, tx, id)
	if err != nil {
		return core.AttendanceRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.AttendanceRecord{}, classify(fmt.Errorf("failed to commit patch: %w", err))
	}
	return rec, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete record: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]core.AttendanceRecord, error) {
	start := core.DayStart(day)
	return p.query(ctx,
		recordColumns+` FROM attendance_records
		 WHERE subject_id = $1 AND ts >= $2 AND ts < $3
		 ORDER BY ts, id`,
		subjectID, start, start.AddDate(0, 0, 1))
}

func (p *PostgresStore) ListOn(ctx context.Context, day time.Time) ([]core.AttendanceRecord, error) {
	start := core.DayStart(day)
	return p.query(ctx,
		recordColumns+` FROM attendance_records
		 WHERE ts >= $1 AND ts < $2
		 ORDER BY ts, id`,
		start, start.AddDate(0, 0, 1))
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const recordColumns = `SELECT id, subject_id, ts, method, kind, direction, late, overtime_hours,
	shift_label, location_name, location_address, location_category, emergency_reason`

func (p *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]core.AttendanceRecord, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query records: %w", err))
	}
	defer rows.Close()

	var out []core.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, classify(rows.Err())
}

func (p *PostgresStore) loadTx(ctx context.Context, tx *sql.Tx, id int64) (core.AttendanceRecord, error) {
	row := tx.QueryRowContext(ctx, recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return core.AttendanceRecord{}, classify(err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (core.AttendanceRecord, error) {
	var rec core.AttendanceRecord
	var method, kind, direction string
	var locName, locAddr, locCat, emergency sql.NullString
	err := s.Scan(&rec.ID, &rec.SubjectID, &rec.Timestamp, &method, &kind, &direction,
		&rec.Late, &rec.OvertimeHours, &rec.ShiftLabel, &locName, &locAddr, &locCat, &emergency)
	if err != nil {
		return core.AttendanceRecord{}, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Method = core.Method(method)
	rec.Kind = core.RecordKind(kind)
	rec.Direction = core.Direction(direction)
	if locName.Valid {
		rec.Location = &core.Location{
			Name:     locName.String,
			Address:  locAddr.String,
			Category: core.LocationCategory(locCat.String),
		}
	}
	if emergency.Valid {
		rec.Emergency = &core.Emergency{Reason: emergency.String}
	}
	return rec, nil
}

// classify wraps connection-level failures as transient so the engine
// retries them once. Constraint and syntax errors stay fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection exceptions
			return Transient(err)
		case pqErr.Code == "40001": // serialization failure
			return Transient(err)
		case pqErr.Code == "55P03": // lock not available
			return Transient(err)
		case pqErr.Code == "57P03": // cannot connect now
			return Transient(err)
		}
	}
	return err
}

var _ RecordStore = (*PostgresStore)(nil)
