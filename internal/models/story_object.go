package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ObjectType string

const (
	ObjectCharacter ObjectType = "character"
	ObjectLocation  ObjectType = "location"
	ObjectItem      ObjectType = "item"
	ObjectConcept   ObjectType = "concept"
)

// StoryObject is a reusable story element (character, location, item) scoped
// to a project and referenced from scenes.
type StoryObject struct {
	ID          string         `json:"id" gorm:"type:char(36);primaryKey"`
	ProjectID   string         `json:"project_id" gorm:"type:char(36);not null;index"`
	Name        string         `json:"name" gorm:"type:text;not null"`
	ObjectType  ObjectType     `json:"object_type" gorm:"type:varchar(20);not null;default:'character'"`
	Description string         `json:"description" gorm:"type:text"`
	Attributes  map[string]any `json:"attributes" gorm:"type:jsonb;default:'{}'"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates a UUID before inserting
func (o *StoryObject) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

type StoryObjectCreate struct {
	ProjectID   string         `json:"project_id"`
	Name        string         `json:"name"`
	ObjectType  ObjectType     `json:"object_type"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes"`
}

type StoryObjectUpdate struct {
	Name        *string        `json:"name,omitempty"`
	ObjectType  *ObjectType    `json:"object_type,omitempty"`
	Description *string        `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}
