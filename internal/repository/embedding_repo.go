package repository

import (
	"context"
	"fmt"

	"storyforge/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingRepositoryImpl handles vector operations for scene embeddings
// using pgvector.
type EmbeddingRepositoryImpl struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a new embedding repository
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepositoryImpl {
	return &EmbeddingRepositoryImpl{db: db}
}

// StoreEmbedding saves one scene chunk embedding.
func (r *EmbeddingRepositoryImpl) StoreEmbedding(ctx context.Context, embedding *models.SceneEmbedding) error {
	if err := r.db.WithContext(ctx).Create(embedding).Error; err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// DeleteBySceneID removes all embeddings of a scene; called before
// regeneration on every content update.
func (r *EmbeddingRepositoryImpl) DeleteBySceneID(ctx context.Context, sceneID string) error {
	err := r.db.WithContext(ctx).
		Unscoped().
		Where("scene_id = ?", sceneID).
		Delete(&models.SceneEmbedding{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// RelatedScenes finds the closest scene chunks within a project, excluding
// the target scene itself. The <=> operator is pgvector cosine distance;
// lower distance means more similar content.
func (r *EmbeddingRepositoryImpl) RelatedScenes(ctx context.Context, projectID, excludeSceneID string, queryEmbedding []float32, limit int) ([]*models.RelatedScene, error) {
	vec := pgvector.NewVector(queryEmbedding)

	var results []*models.RelatedScene

	err := r.db.WithContext(ctx).Raw(`
		SELECT
			e.scene_id,
			s.title,
			e.chunk_text,
			1 - (e.embedding <=> ?) AS score
		FROM scene_embeddings e
		JOIN scenes s ON s.id = e.scene_id
		WHERE s.project_id = ?
		  AND e.scene_id <> ?
		  AND s.deleted_at IS NULL
		  AND e.deleted_at IS NULL
		ORDER BY e.embedding <=> ?
		LIMIT ?
	`, vec, projectID, excludeSceneID, vec, limit).Scan(&results).Error

	if err != nil {
		return nil, fmt.Errorf("failed to search related scenes: %w", err)
	}

	return results, nil
}
