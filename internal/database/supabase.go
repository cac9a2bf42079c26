// Package database is the Supabase table client behind the directory and
// settings sources. Queries return nil rows, not errors, for clean misses so
// callers can distinguish "absent" from "backend down".
package database

import (
	"context"
	"fmt"
	"os"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseClient wraps the Supabase Go client with the kiosk's table
// operations: subjects, locations and kiosk_settings.
type SupabaseClient struct {
	client *supabase.Client
}

// NewSupabaseClient reads SUPABASE_URL / SUPABASE_SERVICE_KEY from the
// environment. The service key is required; the kiosk reads tables that row
// level security hides from anon keys.
func NewSupabaseClient() (*SupabaseClient, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseClient{client: client}, nil
}

// GetSubject retrieves one subject row; nil when the row does not exist.
func (sc *SupabaseClient) GetSubject(ctx context.Context, subjectID string) (*SubjectRow, error) {
	var rows []SubjectRow
	_, err := sc.client.From("subjects").
		Select("*", "", false).
		Eq("subject_id", subjectID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListSubjects lists active subjects, oldest first.
func (sc *SupabaseClient) ListSubjects(ctx context.Context, limit int) ([]SubjectRow, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []SubjectRow
	_, err := sc.client.From("subjects").
		Select("*", "", false).
		Eq("active", "true").
		Order("created_at", nil).
		Limit(limit, "").
		ExecuteTo(&rows)
	return rows, err
}

// ListLocations lists the selectable checkout destinations, alphabetised for
// the display picker.
func (sc *SupabaseClient) ListLocations(ctx context.Context) ([]LocationRow, error) {
	var rows []LocationRow
	_, err := sc.client.From("locations").
		Select("*", "", false).
		Order("name", nil).
		ExecuteTo(&rows)
	return rows, err
}

// GetKioskSettings retrieves the settings row for a station profile; nil
// when no row exists, which leaves the station on its current snapshot.
func (sc *SupabaseClient) GetKioskSettings(ctx context.Context, profile string) (*KioskSettingsRow, error) {
	var rows []KioskSettingsRow
	_, err := sc.client.From("kiosk_settings").
		Select("*", "", false).
		Eq("profile", profile).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query kiosk_settings: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
