package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectPhase string

const (
	PhaseIdea     ProjectPhase = "idea"
	PhaseOutline  ProjectPhase = "outline"
	PhaseScenes   ProjectPhase = "scenes"
	PhaseStory    ProjectPhase = "story"
	PhaseComplete ProjectPhase = "complete"
)

// Project is the top-level writing artifact. Scenes and story objects hang
// off it, and its ID doubles as the collaboration room ID for project scope.
type Project struct {
	ID          string         `json:"id" gorm:"type:char(36);primaryKey"`
	Title       string         `json:"title" gorm:"type:text;not null"`
	Description string         `json:"description" gorm:"type:text"`
	Genre       string         `json:"genre" gorm:"type:varchar(80)"`
	Phase       ProjectPhase   `json:"phase" gorm:"type:varchar(20);not null;default:'idea'"`
	UserID      string         `json:"user_id" gorm:"type:char(36);not null;index"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates a UUID before inserting
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type ProjectCreate struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Genre       string       `json:"genre"`
	Phase       ProjectPhase `json:"phase"`
}

type ProjectUpdate struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Genre       *string       `json:"genre,omitempty"`
	Phase       *ProjectPhase `json:"phase,omitempty"`
}
