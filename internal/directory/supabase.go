package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/database"
)

// SupabaseDirectory reads subjects from the shared Supabase subjects table.
// Rows are written by the enrolment flow; the kiosk only reads.
type SupabaseDirectory struct {
	db *database.SupabaseClient
}

func NewSupabaseDirectory(db *database.SupabaseClient) *SupabaseDirectory {
	return &SupabaseDirectory{db: db}
}

func (d *SupabaseDirectory) Lookup(ctx context.Context, id string) (*core.Subject, error) {
	row, err := d.db.GetSubject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("directory lookup %s: %w", id, err)
	}
	if row == nil || !row.Active {
		return nil, ErrNotFound
	}
	return subjectFromRow(row)
}

func (d *SupabaseDirectory) AllWithEmbeddings(ctx context.Context) ([]core.Subject, error) {
	rows, err := d.db.ListSubjects(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	out := make([]core.Subject, 0, len(rows))
	for i := range rows {
		s, err := subjectFromRow(&rows[i])
		if err != nil {
			slog.Warn("[Directory] Skipping malformed subject row", "subject", rows[i].SubjectID, "error", err)
			continue
		}
		if len(s.Embeddings) == 0 {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func subjectFromRow(row *database.SubjectRow) (*core.Subject, error) {
	role := core.Role(row.Role)
	switch role {
	case core.RoleStaff, core.RoleSecurity:
	default:
		return nil, fmt.Errorf("unknown role %q for subject %s", row.Role, row.SubjectID)
	}

	s := &core.Subject{ID: row.SubjectID, Name: row.Name, Role: role}
	for i, enc := range row.Embeddings {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			slog.Warn("[Directory] Dropping undecodable face template", "subject", row.SubjectID, "index", i)
			continue
		}
		s.Embeddings = append(s.Embeddings, raw)
	}
	return s, nil
}

var _ Directory = (*SupabaseDirectory)(nil)
