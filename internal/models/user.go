package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an authenticated writer. Token accounting lives here: every AI
// critique deducts its cost from the remaining balance.
type User struct {
	ID          string         `json:"id" gorm:"type:char(36);primaryKey"`
	Username    string         `json:"username" gorm:"type:varchar(80);uniqueIndex;not null"`
	Email       string         `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Avatar      string         `json:"avatar,omitempty" gorm:"type:text"`
	TokensLimit int            `json:"tokens_limit" gorm:"not null;default:500"`
	TokensUsed  int            `json:"tokens_used" gorm:"not null;default:0"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates a UUID before inserting
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// TokensRemaining returns the unspent portion of the user's token budget.
func (u *User) TokensRemaining() int {
	remaining := u.TokensLimit - u.TokensUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
