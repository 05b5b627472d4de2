package repository

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/models"

	"gorm.io/gorm"
)

// UserRepositoryImpl handles user records and the token ledger.
type UserRepositoryImpl struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

// GetByID retrieves a user by UUID.
func (r *UserRepositoryImpl) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User

	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// DeductTokens atomically spends cost tokens from the user's balance. The
// guard lives in the WHERE clause so two concurrent deductions can never
// overdraw; zero rows affected means the balance was insufficient.
func (r *UserRepositoryImpl) DeductTokens(ctx context.Context, userID string, cost int) (remaining int, err error) {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND tokens_used + ? <= tokens_limit", userID, cost).
		Update("tokens_used", gorm.Expr("tokens_used + ?", cost))

	if result.Error != nil {
		return 0, fmt.Errorf("failed to deduct tokens: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		user, getErr := r.GetByID(ctx, userID)
		if getErr != nil {
			return 0, getErr
		}
		return user.TokensRemaining(), fmt.Errorf("user %s needs %d tokens: %w", userID, cost, ErrInsufficientTokens)
	}

	user, getErr := r.GetByID(ctx, userID)
	if getErr != nil {
		return 0, getErr
	}
	return user.TokensRemaining(), nil
}

// RefundTokens returns cost tokens to the user after a failed critique.
func (r *UserRepositoryImpl) RefundTokens(ctx context.Context, userID string, cost int) error {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("tokens_used", gorm.Expr("GREATEST(tokens_used - ?, 0)", cost))

	if result.Error != nil {
		return fmt.Errorf("failed to refund tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}
