package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shiftgate/kiosk/internal/database"
)

// SupabaseSource reads the kiosk_settings row for a station profile. A
// missing row yields the defaults so a fresh deployment boots clean.
type SupabaseSource struct {
	db      *database.SupabaseClient
	profile string
}

func NewSupabaseSource(db *database.SupabaseClient, profile string) *SupabaseSource {
	if profile == "" {
		profile = "default"
	}
	return &SupabaseSource{db: db, profile: profile}
}

func (s *SupabaseSource) Fetch(ctx context.Context) (Shift, error) {
	row, err := s.db.GetKioskSettings(ctx, s.profile)
	if err != nil {
		return Shift{}, fmt.Errorf("fetch kiosk settings: %w", err)
	}
	next := Default()
	if row == nil || len(row.Payload) == 0 {
		return next, nil
	}
	if err := json.Unmarshal(row.Payload, &next); err != nil {
		return Shift{}, fmt.Errorf("decode settings payload: %w", err)
	}
	return next, nil
}
