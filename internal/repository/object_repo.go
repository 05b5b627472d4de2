package repository

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/models"

	"gorm.io/gorm"
)

// ObjectRepositoryImpl handles database operations for story objects.
type ObjectRepositoryImpl struct {
	db *gorm.DB
}

// NewObjectRepository creates a new story object repository
func NewObjectRepository(db *gorm.DB) *ObjectRepositoryImpl {
	return &ObjectRepositoryImpl{db: db}
}

// Create inserts a new story object.
func (r *ObjectRepositoryImpl) Create(ctx context.Context, create *models.StoryObjectCreate) (*models.StoryObject, error) {
	object := &models.StoryObject{
		ProjectID:   create.ProjectID,
		Name:        create.Name,
		ObjectType:  create.ObjectType,
		Description: create.Description,
		Attributes:  create.Attributes,
	}
	if object.ObjectType == "" {
		object.ObjectType = models.ObjectCharacter
	}

	if err := r.db.WithContext(ctx).Create(object).Error; err != nil {
		return nil, fmt.Errorf("failed to create story object: %w", err)
	}

	return object, nil
}

// GetByID retrieves a story object by UUID.
func (r *ObjectRepositoryImpl) GetByID(ctx context.Context, id string) (*models.StoryObject, error) {
	var object models.StoryObject

	err := r.db.WithContext(ctx).First(&object, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("story object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story object: %w", err)
	}

	return &object, nil
}

// ListByProject returns all story objects of a project, newest first.
func (r *ObjectRepositoryImpl) ListByProject(ctx context.Context, projectID string) ([]*models.StoryObject, error) {
	var objects []*models.StoryObject

	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&objects).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list story objects: %w", err)
	}

	return objects, nil
}

// Update modifies a story object. Nil fields are left untouched.
func (r *ObjectRepositoryImpl) Update(ctx context.Context, id string, update *models.StoryObjectUpdate) (*models.StoryObject, error) {
	var object models.StoryObject

	if err := r.db.WithContext(ctx).First(&object, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("story object %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find story object: %w", err)
	}

	updates := make(map[string]interface{})
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	if update.ObjectType != nil {
		updates["object_type"] = *update.ObjectType
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Attributes != nil {
		updates["attributes"] = update.Attributes
	}

	if err := r.db.WithContext(ctx).Model(&object).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update story object: %w", err)
	}

	return &object, nil
}

// Delete performs a soft delete on the story object.
func (r *ObjectRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.StoryObject{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete story object: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("story object %s: %w", id, ErrNotFound)
	}

	return nil
}
