package repository

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/models"

	"gorm.io/gorm"
)

// SceneRepositoryImpl handles all database operations for scenes, including
// the contiguous sort-order bookkeeping that reorder broadcasts depend on.
type SceneRepositoryImpl struct {
	db *gorm.DB
}

// NewSceneRepository creates a new scene repository
func NewSceneRepository(db *gorm.DB) *SceneRepositoryImpl {
	return &SceneRepositoryImpl{db: db}
}

// Create inserts a new scene at the end of the project's order.
func (r *SceneRepositoryImpl) Create(ctx context.Context, create *models.SceneCreate) (*models.Scene, error) {
	scene := &models.Scene{
		ProjectID: create.ProjectID,
		Title:     create.Title,
		Content:   create.Content,
		Status:    create.Status,
		Version:   1,
	}
	if scene.Status == "" {
		scene.Status = models.SceneDraft
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Scene{}).Where("project_id = ?", create.ProjectID).Count(&count).Error; err != nil {
			return err
		}
		scene.SortOrder = int(count)
		return tx.Create(scene).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scene: %w", err)
	}

	return scene, nil
}

// GetByID retrieves a scene by UUID.
func (r *SceneRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Scene, error) {
	var scene models.Scene

	err := r.db.WithContext(ctx).First(&scene, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	return &scene, nil
}

// ListByProject returns a project's scenes in sort order.
func (r *SceneRepositoryImpl) ListByProject(ctx context.Context, projectID string) ([]*models.Scene, error) {
	var scenes []*models.Scene

	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("sort_order ASC").
		Find(&scenes).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}

	return scenes, nil
}

// Update modifies a scene and bumps its version. The version increment and
// field updates happen in one statement so concurrent writers cannot
// produce two scenes with the same version.
func (r *SceneRepositoryImpl) Update(ctx context.Context, id string, update *models.SceneUpdate) (*models.Scene, error) {
	var scene models.Scene

	if err := r.db.WithContext(ctx).First(&scene, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scene %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find scene: %w", err)
	}

	updates := map[string]interface{}{
		"version": gorm.Expr("version + 1"),
	}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Content != nil {
		updates["content"] = *update.Content
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}

	if err := r.db.WithContext(ctx).Model(&scene).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update scene: %w", err)
	}

	// Re-read to pick up the incremented version
	return r.GetByID(ctx, id)
}

// Delete performs a soft delete and closes the sort-order gap it leaves.
func (r *SceneRepositoryImpl) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scene models.Scene
		if err := tx.First(&scene, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("scene %s: %w", id, ErrNotFound)
			}
			return err
		}

		if err := tx.Delete(&scene).Error; err != nil {
			return err
		}

		return tx.Model(&models.Scene{}).
			Where("project_id = ? AND sort_order > ?", scene.ProjectID, scene.SortOrder).
			Update("sort_order", gorm.Expr("sort_order - 1")).Error
	})

	if err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}
	return nil
}

// Reorder rewrites the project's scene order to match orderedIDs exactly.
// Every scene of the project must appear in the list; the new order indexes
// are contiguous from zero.
func (r *SceneRepositoryImpl) Reorder(ctx context.Context, projectID string, orderedIDs []string) ([]*models.Scene, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Scene{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
			return err
		}
		if int(count) != len(orderedIDs) {
			return fmt.Errorf("reorder requires all %d scenes, got %d", count, len(orderedIDs))
		}

		for idx, sceneID := range orderedIDs {
			result := tx.Model(&models.Scene{}).
				Where("id = ? AND project_id = ?", sceneID, projectID).
				Update("sort_order", idx)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("scene %s: %w", sceneID, ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reorder scenes: %w", err)
	}

	return r.ListByProject(ctx, projectID)
}
