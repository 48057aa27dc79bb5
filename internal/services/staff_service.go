package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// StaffDirectory answers whether a staff member may act.
type StaffDirectory interface {
	ActiveStaff(ctx context.Context, id string) (*domain.StaffMember, error)
}

// StaffService manages staff members, their chat sessions and shifts.
type StaffService struct {
	DB *gorm.DB
}

// NewStaffService constructs a StaffService.
func NewStaffService(db *gorm.DB) *StaffService { return &StaffService{DB: db} }

// Create registers an active staff member.
func (s *StaffService) Create(ctx context.Context, name string) (*domain.StaffMember, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: staff name is required", ErrValidation)
	}
	return repo.CreateStaffMember(ctx, s.DB, name)
}

// ActiveStaff returns the staff member if it exists and is active.
func (s *StaffService) ActiveStaff(ctx context.Context, id string) (*domain.StaffMember, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: staff id required", ErrForbidden)
	}
	m, err := repo.GetStaffMember(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: unknown staff %s", ErrForbidden, id)
	}
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, ErrStaffInactive
	}
	return m, nil
}

// SetActive enables or disables a staff member.
func (s *StaffService) SetActive(ctx context.Context, id string, active bool) error {
	err := repo.SetStaffActive(ctx, s.DB, id, active)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrStaffNotFound
	}
	return err
}

// LinkSession binds a chat session to a staff member.
func (s *StaffService) LinkSession(ctx context.Context, staffID, sessionID string) (*domain.StaffSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id required", ErrValidation)
	}
	if _, err := repo.GetStaffMember(ctx, s.DB, staffID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStaffNotFound
		}
		return nil, err
	}
	return repo.LinkStaffSession(ctx, s.DB, staffID, sessionID)
}

// ResolveSession maps a chat session to its staff session. Unknown sessions
// and sessions of inactive staff are rejected; duty is left to the caller.
func (s *StaffService) ResolveSession(ctx context.Context, sessionID string) (*domain.StaffSession, error) {
	sess, err := repo.GetStaffSession(ctx, s.DB, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, err
	}
	if !sess.Staff.Active {
		return nil, ErrStaffInactive
	}
	_ = repo.TouchStaffSession(ctx, s.DB, sessionID)
	return sess, nil
}

// SetSessionDuty starts or ends a shift for one chat session.
func (s *StaffService) SetSessionDuty(ctx context.Context, sessionID string, onDuty bool) error {
	if _, err := s.ResolveSession(ctx, sessionID); err != nil {
		return err
	}
	return repo.SetSessionOnDuty(ctx, s.DB, sessionID, onDuty)
}

// SetDuty starts or ends a shift on every session of a staff member and
// returns how many sessions changed.
func (s *StaffService) SetDuty(ctx context.Context, staffID string, onDuty bool) (int64, error) {
	if _, err := s.ActiveStaff(ctx, staffID); err != nil {
		return 0, err
	}
	n, err := repo.SetStaffOnDuty(ctx, s.DB, staffID, onDuty)
	if err != nil {
		return 0, err
	}
	logger(ctx).Info().Str("staff_id", staffID).Bool("on_duty", onDuty).Int64("sessions", n).Msg("shift toggled")
	return n, nil
}

// OnDutySessions lists sessions that should receive new-order messages.
func (s *StaffService) OnDutySessions(ctx context.Context) ([]domain.StaffSession, error) {
	return repo.ListOnDutySessions(ctx, s.DB)
}
