package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

var (
	// ErrUsernameTaken is returned when signing up with an existing username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrNotResponder is returned when approving an account that is not staff.
	ErrNotResponder = errors.New("account is not a responder")
)

// AccountStore manages requester and responder accounts.
type AccountStore struct {
	DB *gorm.DB
}

// Register creates an account from a signup. Requesters are active at once;
// volunteers are created inactive staff and wait for approval.
func (s *AccountStore) Register(ctx context.Context, in models.SignupInput, passwordHash string) (*Account, error) {
	acc := &Account{
		Username:     in.Username,
		PasswordHash: passwordHash,
		PhoneNumber:  in.PhoneNumber,
		Role:         in.Role,
	}
	switch in.Role {
	case models.RoleVolunteer:
		acc.IsStaff = true
		acc.FullName = in.FullName
		acc.SkillsBio = in.SkillsBio
	default:
		acc.IsActive = true
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Account{}).Where("username = ?", in.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		return tx.Create(acc).Error
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// FindByUsername loads an account for login.
func (s *AccountStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	var acc Account
	if err := s.DB.WithContext(ctx).Where("username = ?", username).First(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// Get loads an account by id.
func (s *AccountStore) Get(ctx context.Context, id uint) (*Account, error) {
	var acc Account
	if err := s.DB.WithContext(ctx).First(&acc, id).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// Approve activates a pending volunteer account.
func (s *AccountStore) Approve(ctx context.Context, id uint) (*Account, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.IsStaff {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotResponder)
	}
	if err := s.DB.WithContext(ctx).Model(acc).Update("is_active", true).Error; err != nil {
		return nil, fmt.Errorf("approve account: %w", err)
	}
	acc.IsActive = true
	return acc, nil
}

// SetLocation records where a responder currently is.
func (s *AccountStore) SetLocation(ctx context.Context, id uint, loc models.Coordinates) error {
	res := s.DB.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{"latitude": loc.Lat, "longitude": loc.Lon})
	if res.Error != nil {
		return fmt.Errorf("set location: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
