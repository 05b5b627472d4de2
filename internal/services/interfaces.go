package services

import (
	"context"

	"storyforge/internal/models"
)

// Interfaces are declared here, in the consuming package. The repository
// package returns concrete types and knows nothing about them.

// SceneRepository defines what services need from scene storage.
type SceneRepository interface {
	GetByID(ctx context.Context, id string) (*models.Scene, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Scene, error)
}

// ProjectRepository defines what services need from project storage.
type ProjectRepository interface {
	GetByID(ctx context.Context, id string) (*models.Project, error)
}

// AnalysisRepository defines what services need from analysis storage.
type AnalysisRepository interface {
	Store(ctx context.Context, analysis *models.AIAnalysis) error
}

// UserRepository defines what services need from the token ledger.
type UserRepository interface {
	RefundTokens(ctx context.Context, userID string, cost int) error
}

// EmbeddingRepository defines what services need from vector storage.
type EmbeddingRepository interface {
	StoreEmbedding(ctx context.Context, embedding *models.SceneEmbedding) error
	DeleteBySceneID(ctx context.Context, sceneID string) error
	RelatedScenes(ctx context.Context, projectID, excludeSceneID string, queryEmbedding []float32, limit int) ([]*models.RelatedScene, error)
}

// Embedder generates embedding vectors for text chunks.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ResultPublisher pushes critique outcomes to the room that is watching the
// target artifact. Implemented by the collaboration hub.
type ResultPublisher interface {
	PublishAnalysis(analysis *models.AIAnalysis)
	PublishAnalysisError(targetType models.TargetType, targetID, criticType string, code models.AnalysisErrorCode, message string)
}
