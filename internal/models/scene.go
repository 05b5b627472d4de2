package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SceneStatus string

const (
	SceneDraft    SceneStatus = "draft"
	SceneRevision SceneStatus = "revision"
	SceneFinal    SceneStatus = "final"
)

// Scene is an ordered unit of a project's story. SortOrder is a contiguous
// index within the project (0..n-1) recomputed on every reorder; Version
// increases monotonically on every content update so clients can tell a
// broadcast echo from a stale write.
type Scene struct {
	ID        string         `json:"id" gorm:"type:char(36);primaryKey"`
	ProjectID string         `json:"project_id" gorm:"type:char(36);not null;index"`
	Title     string         `json:"title" gorm:"type:text;not null"`
	Content   string         `json:"content" gorm:"type:text"`
	Status    SceneStatus    `json:"status" gorm:"type:varchar(20);not null;default:'draft'"`
	SortOrder int            `json:"sort_order" gorm:"not null;default:0"`
	Version   int64          `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates a UUID before inserting
func (s *Scene) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

type SceneCreate struct {
	ProjectID string      `json:"project_id"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	Status    SceneStatus `json:"status"`
}

type SceneUpdate struct {
	Title   *string      `json:"title,omitempty"`
	Content *string      `json:"content,omitempty"`
	Status  *SceneStatus `json:"status,omitempty"`
}
