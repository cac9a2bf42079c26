package directory

import (
	"encoding/base64"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/shiftgate/kiosk/internal/core"
)

// rosterFile is the YAML shape for a station-local enrolment file. Face
// templates are base64 so the file stays editable by hand.
type rosterFile struct {
	Subjects []rosterSubject `yaml:"subjects"`
}

type rosterSubject struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Role       string   `yaml:"role"`
	Embeddings []string `yaml:"embeddings"`
}

// LoadFile reads a YAML roster into a Memory directory. Single-station
// deployments use this instead of Supabase; the file is read once at boot.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	m := NewMemory()
	for i, rs := range rf.Subjects {
		if rs.ID == "" {
			return nil, fmt.Errorf("roster subject %d: missing id", i)
		}
		role := core.Role(rs.Role)
		if role == "" {
			role = core.RoleStaff
		}
		if role != core.RoleStaff && role != core.RoleSecurity {
			return nil, fmt.Errorf("roster subject %s: unknown role %q", rs.ID, rs.Role)
		}
		s := core.Subject{ID: rs.ID, Name: rs.Name, Role: role}
		for j, enc := range rs.Embeddings {
			blob, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("roster subject %s: embedding %d: %w", rs.ID, j, err)
			}
			s.Embeddings = append(s.Embeddings, blob)
		}
		m.Put(s)
	}
	return m, nil
}
