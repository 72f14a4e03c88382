package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// Profile carries per-subject custom limits set by support staff
type Profile struct {
	SubjectID       string                           `json:"subject_id"`
	HasCustomLimits bool                             `json:"has_custom_limits"`
	CustomLimits    map[plans.Capability]plans.Limit `json:"custom_limits"`
	UpdatedAt       time.Time                        `json:"updated_at"`
}

// LimitFor returns the custom limit for capability when custom limits are
// enabled and define it
func (p *Profile) LimitFor(capability plans.Capability) (plans.Limit, bool) {
	if p == nil || !p.HasCustomLimits {
		return 0, false
	}
	l, ok := p.CustomLimits[capability]
	return l, ok
}

// Validate rejects unknown capabilities and malformed limits
func (p *Profile) Validate() error {
	if p.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	for c, l := range p.CustomLimits {
		if !c.IsKnown() {
			return fmt.Errorf("%w: unknown capability %q", plans.ErrInvalidConfiguration, c)
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("capability %s: %w", c, err)
		}
	}
	return nil
}

// Store reads subject profiles
type Store interface {
	// Get returns the profile for subjectID or storage.ErrNotFound
	Get(ctx context.Context, subjectID string) (*Profile, error)
}

// SQLStore persists profiles in the subject_profiles table
type SQLStore struct {
	cm *storage.ConnectionManager
}

// NewSQLStore creates a SQLStore
func NewSQLStore(cm *storage.ConnectionManager) *SQLStore {
	return &SQLStore{cm: cm}
}

// Get reads a snapshot from a replica
func (s *SQLStore) Get(ctx context.Context, subjectID string) (*Profile, error) {
	query := `
		SELECT subject_id, has_custom_limits, custom_limits, updated_at
		FROM subject_profiles
		WHERE subject_id = ?
	`
	p := &Profile{}
	var limits string
	err := s.cm.Replica().QueryRowContext(ctx, s.cm.Dialect().Rebind(query), subjectID).
		Scan(&p.SubjectID, &p.HasCustomLimits, &limits, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile for %q: %w", subjectID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to get profile: %w", err))
	}
	if err := json.Unmarshal([]byte(limits), &p.CustomLimits); err != nil {
		return nil, fmt.Errorf("failed to decode custom limits: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// Save upserts p
func (s *SQLStore) Save(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	limits := p.CustomLimits
	if limits == nil {
		limits = map[plans.Capability]plans.Limit{}
	}
	encoded, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("failed to encode custom limits: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO subject_profiles (subject_id, has_custom_limits, custom_limits, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE
		SET has_custom_limits = EXCLUDED.has_custom_limits,
		    custom_limits = EXCLUDED.custom_limits,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = s.cm.Primary().ExecContext(ctx, s.cm.Dialect().Rebind(query),
		p.SubjectID, p.HasCustomLimits, string(encoded), p.UpdatedAt)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to save profile: %w", err))
	}
	return nil
}
