package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/shiftgate/kiosk/internal/core"
)

// SpannerStore is the RecordStore for multi-station fleets that share one
// regional database. Ids come from a sequence row bumped inside the same
// read-write transaction as the insert, so append order stays monotonic
// across stations.
type SpannerStore struct {
	client *spanner.Client
	logger *log.Logger
}

const recordSequenceName = "attendance_records"

// NewSpannerStore creates a RecordStore backed by Cloud Spanner.
func NewSpannerStore(project, instance, dbName string) (*SpannerStore, error) {
	ctx := context.Background()
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, dbName)

	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spanner client: %w", err)
	}

	return &SpannerStore{
		client: client,
		logger: log.New(log.Writer(), "[SpannerStore] ", log.LstdFlags),
	}, nil
}

func (ss *SpannerStore) Append(ctx context.Context, rec core.AttendanceRecord) (core.AttendanceRecord, error) {
	var assigned int64
	_, err := ss.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		next := int64(1)
		row, err := txn.ReadRow(ctx, "RecordSequence", spanner.Key{recordSequenceName}, []string{"NextID"})
		switch {
		case err == nil:
			if err := row.Columns(&next); err != nil {
				return err
			}
		case spanner.ErrCode(err) == codes.NotFound:
			// First record ever: seed the sequence row.
		default:
			return err
		}
		assigned = next

		seqMutation := spanner.InsertOrUpdate("RecordSequence",
			[]string{"Name", "NextID"},
			[]interface{}{recordSequenceName, next + 1},
		)

		locName, locAddr, locCat := spanner.NullString{}, spanner.NullString{}, spanner.NullString{}
		if rec.Location != nil {
			locName = spanner.NullString{StringVal: rec.Location.Name, Valid: true}
			locAddr = spanner.NullString{StringVal: rec.Location.Address, Valid: true}
			locCat = spanner.NullString{StringVal: string(rec.Location.Category), Valid: true}
		}
		emergency := spanner.NullString{}
		if rec.Emergency != nil {
			emergency = spanner.NullString{StringVal: rec.Emergency.Reason, Valid: true}
		}

		recMutation := spanner.Insert("AttendanceRecords",
			[]string{"RecordID", "SubjectID", "Timestamp", "Method", "Kind", "Direction",
				"Late", "OvertimeHours", "ShiftLabel",
				"LocationName", "LocationAddress", "LocationCategory", "EmergencyReason", "Patched"},
			[]interface{}{next, rec.SubjectID, rec.Timestamp, string(rec.Method), string(rec.Kind), string(rec.Direction),
				rec.Late, int64(rec.OvertimeHours), rec.ShiftLabel,
				locName, locAddr, locCat, emergency, false},
		)

		return txn.BufferWrite([]*spanner.Mutation{seqMutation, recMutation})
	})
	if err != nil {
		return core.AttendanceRecord{}, classifySpanner(fmt.Errorf("failed to append record: %w", err))
	}
	rec.ID = assigned
	return rec, nil
}

func (ss *SpannerStore) Patch(ctx context.Context, id int64, patch Patch) (core.AttendanceRecord, error) {
	var out core.AttendanceRecord
	_, err := ss.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		row, err := txn.ReadRow(ctx, "AttendanceRecords", spanner.Key{id}, recordColumnNames())
		if err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		rec, patched, err := decodeSpannerRow(row)
		if err != nil {
			return err
		}
		if patched {
			return ErrAlreadyPatched
		}

		dayStart := core.DayStart(rec.Timestamp)
		sealStmt := spanner.Statement{
			SQL: `SELECT RecordID FROM AttendanceRecords
			      WHERE SubjectID = @subject AND RecordID > @id
			        AND Timestamp >= @start AND Timestamp < @end
			      LIMIT 1`,
			Params: map[string]interface{}{
				"subject": rec.SubjectID,
				"id":      id,
				"start":   dayStart,
				"end":     dayStart.AddDate(0, 0, 1),
			},
		}
		iter := txn.Query(ctx, sealStmt)
		defer iter.Stop()
		if _, err := iter.Next(); err != iterator.Done {
			if err != nil {
				return err
			}
			return ErrAlreadyPatched
		}

		cols := []string{"RecordID", "Patched"}
		vals := []interface{}{id, true}
		if patch.Location != nil {
			cols = append(cols, "LocationName", "LocationAddress", "LocationCategory")
			vals = append(vals, patch.Location.Name, patch.Location.Address, string(patch.Location.Category))
			loc := *patch.Location
			rec.Location = &loc
		}
		if patch.Emergency != nil {
			cols = append(cols, "EmergencyReason")
			vals = append(vals, patch.Emergency.Reason)
			em := *patch.Emergency
			rec.Emergency = &em
		}
		out = rec
		return txn.BufferWrite([]*spanner.Mutation{spanner.Update("AttendanceRecords", cols, vals)})
	})
	if err != nil {
		if err == ErrNotFound || err == ErrAlreadyPatched {
			return core.AttendanceRecord{}, err
		}
		return core.AttendanceRecord{}, classifySpanner(fmt.Errorf("failed to patch record: %w", err))
	}
	return out, nil
}

func (ss *SpannerStore) Delete(ctx context.Context, id int64) error {
	_, err := ss.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		_, err := txn.ReadRow(ctx, "AttendanceRecords", spanner.Key{id}, []string{"RecordID"})
		if err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		return txn.BufferWrite([]*spanner.Mutation{
			spanner.Delete("AttendanceRecords", spanner.Key{id}),
		})
	})
	if err != nil {
		if err == ErrNotFound {
			return err
		}
		return classifySpanner(fmt.Errorf("failed to delete record: %w", err))
	}
	return nil
}

func (ss *SpannerStore) ListForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]core.AttendanceRecord, error) {
	dayStart := core.DayStart(day)
	return ss.list(ctx, spanner.Statement{
		SQL: `SELECT ` + spannerSelectColumns + ` FROM AttendanceRecords
		      WHERE SubjectID = @subject AND Timestamp >= @start AND Timestamp < @end
		      ORDER BY Timestamp, RecordID`,
		Params: map[string]interface{}{
			"subject": subjectID,
			"start":   dayStart,
			"end":     dayStart.AddDate(0, 0, 1),
		},
	})
}

func (ss *SpannerStore) ListOn(ctx context.Context, day time.Time) ([]core.AttendanceRecord, error) {
	dayStart := core.DayStart(day)
	return ss.list(ctx, spanner.Statement{
		SQL: `SELECT ` + spannerSelectColumns + ` FROM AttendanceRecords
		      WHERE Timestamp >= @start AND Timestamp < @end
		      ORDER BY Timestamp, RecordID`,
		Params: map[string]interface{}{
			"start": dayStart,
			"end":   dayStart.AddDate(0, 0, 1),
		},
	})
}

// Close closes the Spanner client.
func (ss *SpannerStore) Close() error {
	ss.client.Close()
	return nil
}

func (ss *SpannerStore) list(ctx context.Context, stmt spanner.Statement) ([]core.AttendanceRecord, error) {
	// Day listings tolerate slightly stale reads; commits never go
	// through this path.
	roTx := ss.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(15 * time.Second))
	defer roTx.Close()

	iter := roTx.Query(ctx, stmt)
	defer iter.Stop()

	var out []core.AttendanceRecord
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifySpanner(fmt.Errorf("failed to list records: %w", err))
		}
		rec, _, err := decodeSpannerRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

const spannerSelectColumns = `RecordID, SubjectID, Timestamp, Method, Kind, Direction,
	Late, OvertimeHours, ShiftLabel, LocationName, LocationAddress, LocationCategory, EmergencyReason, Patched`

func recordColumnNames() []string {
	return []string{"RecordID", "SubjectID", "Timestamp", "Method", "Kind", "Direction",
		"Late", "OvertimeHours", "ShiftLabel",
		"LocationName", "LocationAddress", "LocationCategory", "EmergencyReason", "Patched"}
}

func decodeSpannerRow(row *spanner.Row) (core.AttendanceRecord, bool, error) {
	var rec core.AttendanceRecord
	var method, kind, direction string
	var overtime int64
	var locName, locAddr, locCat, emergency spanner.NullString
	var patched bool
	err := row.Columns(&rec.ID, &rec.SubjectID, &rec.Timestamp, &method, &kind, &direction,
		&rec.Late, &overtime, &rec.ShiftLabel, &locName, &locAddr, &locCat, &emergency, &patched)
	if err != nil {
		return core.AttendanceRecord{}, false, fmt.Errorf("failed to decode record row: %w", err)
	}
	rec.Method = core.Method(method)
	rec.Kind = core.RecordKind(kind)
	rec.Direction = core.Direction(direction)
	rec.OvertimeHours = int(overtime)
	if locName.Valid {
		rec.Location = &core.Location{
			Name:     locName.StringVal,
			Address:  locAddr.StringVal,
			Category: core.LocationCategory(locCat.StringVal),
		}
	}
	if emergency.Valid {
		rec.Emergency = &core.Emergency{Reason: emergency.StringVal}
	}
	return rec, patched, nil
}

// classifySpanner maps retryable Spanner verdicts onto the transient
// class the engine knows how to retry.
func classifySpanner(err error) error {
	if err == nil {
		return nil
	}
	switch spanner.ErrCode(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return Transient(err)
	}
	return err
}

var _ RecordStore = (*SpannerStore)(nil)
