package store

import (
	"database/sql"
	"fmt"
)

// CreateOrganization inserts an organization.
func (s *Store) CreateOrganization(org *Organization) error {
	_, err := s.db.Exec(`
		INSERT INTO organizations (id, name, created_at)
		VALUES (?, ?, ?)
	`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// GetOrganization returns the organization, or nil if absent.
func (s *Store) GetOrganization(id string) (*Organization, error) {
	var org Organization
	err := s.db.QueryRow(`
		SELECT id, name, created_at FROM organizations WHERE id = ?
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// CreateProject inserts a project with its configuration.
func (s *Store) CreateProject(p *Project) error {
	types, err := marshalJSON(p.MemoryTypes)
	if err != nil {
		return err
	}
	if p.MemoryRetention == "" {
		p.MemoryRetention = RetentionForever
	}
	_, err = s.db.Exec(`
		INSERT INTO projects (id, organization_id, name, memory_types, memory_retention,
			session_logging_enabled, memory_current_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OrganizationID, p.Name, types, p.MemoryRetention,
		p.SessionLoggingEnabled, p.MemoryCurrentEnabled, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject returns the project, or nil if absent.
func (s *Store) GetProject(id string) (*Project, error) {
	var (
		p     Project
		types string
	)
	err := s.db.QueryRow(`
		SELECT id, organization_id, name, memory_types, memory_retention,
			session_logging_enabled, memory_current_enabled, created_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &types, &p.MemoryRetention,
		&p.SessionLoggingEnabled, &p.MemoryCurrentEnabled, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.MemoryTypes = unmarshalStrings(types)
	return &p, nil
}

// ListRetentionProjects returns all projects whose retention policy is
// not "keep forever". Used by the retention sweeper.
func (s *Store) ListRetentionProjects() ([]*Project, error) {
	rows, err := s.db.Query(`
		SELECT id, organization_id, name, memory_types, memory_retention,
			session_logging_enabled, memory_current_enabled, created_at
		FROM projects WHERE memory_retention != ?
	`, RetentionForever)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var (
			p     Project
			types string
		)
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &types, &p.MemoryRetention,
			&p.SessionLoggingEnabled, &p.MemoryCurrentEnabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.MemoryTypes = unmarshalStrings(types)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// UpdateProjectRetention changes a project's retention policy. Invoked
// by the dashboard collaborator; takes effect on the next sweep and the
// next search.
func (s *Store) UpdateProjectRetention(projectID, retention string) error {
	if !ValidRetention(retention) {
		return fmt.Errorf("unknown retention policy %q", retention)
	}
	_, err := s.db.Exec(`
		UPDATE projects SET memory_retention = ? WHERE id = ?
	`, retention, projectID)
	if err != nil {
		return fmt.Errorf("update retention: %w", err)
	}
	return nil
}

// CountProjects returns the number of projects in an organization.
func (s *Store) CountProjects(orgID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM projects WHERE organization_id = ?`, orgID).Scan(&n)
	return n, err
}
