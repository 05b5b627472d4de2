package repository

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/models"

	"gorm.io/gorm"
)

// ProjectRepositoryImpl handles all database operations for projects.
type ProjectRepositoryImpl struct {
	db *gorm.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *gorm.DB) *ProjectRepositoryImpl {
	return &ProjectRepositoryImpl{db: db}
}

// Create inserts a new project owned by userID.
func (r *ProjectRepositoryImpl) Create(ctx context.Context, userID string, create *models.ProjectCreate) (*models.Project, error) {
	project := &models.Project{
		Title:       create.Title,
		Description: create.Description,
		Genre:       create.Genre,
		Phase:       create.Phase,
		UserID:      userID,
	}
	if project.Phase == "" {
		project.Phase = models.PhaseIdea
	}

	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// GetByID retrieves a project by UUID. Soft-deleted projects are excluded.
func (r *ProjectRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project

	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// ListByUser returns the user's projects, most recently updated first.
func (r *ProjectRepositoryImpl) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Project, error) {
	var projects []*models.Project

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&projects).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}

// Update modifies an existing project. Nil fields are left untouched.
func (r *ProjectRepositoryImpl) Update(ctx context.Context, id string, update *models.ProjectUpdate) (*models.Project, error) {
	var project models.Project

	if err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find project: %w", err)
	}

	updates := make(map[string]interface{})
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Genre != nil {
		updates["genre"] = *update.Genre
	}
	if update.Phase != nil {
		updates["phase"] = *update.Phase
	}

	if err := r.db.WithContext(ctx).Model(&project).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return &project, nil
}

// Delete performs a soft delete on the project.
func (r *ProjectRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Project{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	return nil
}
