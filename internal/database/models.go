package database

import "encoding/json"

// SubjectRow is a row in the subjects table. Timestamps stay strings to
// handle the Supabase format.
type SubjectRow struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	// Embeddings holds base64-encoded face templates, newest last.
	Embeddings []string `json:"embeddings,omitempty"`
	Active     bool     `json:"active"`
	CreatedAt  string   `json:"created_at,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
}

// LocationRow is a row in the locations table.
type LocationRow struct {
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Category string `json:"category"`
}

// KioskSettingsRow is the single settings row for a station profile. The
// payload column is JSONB and is decoded by the settings package.
type KioskSettingsRow struct {
	Profile   string          `json:"profile"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}
