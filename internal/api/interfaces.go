package api

import (
	"context"

	"storyforge/internal/models"
	"storyforge/internal/services"
)

// Interfaces are declared here, in the consuming package; the repository and
// service packages return concrete types.

// ProjectStore defines what the handlers need from project storage.
type ProjectStore interface {
	Create(ctx context.Context, userID string, create *models.ProjectCreate) (*models.Project, error)
	GetByID(ctx context.Context, id string) (*models.Project, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Project, error)
	Update(ctx context.Context, id string, update *models.ProjectUpdate) (*models.Project, error)
	Delete(ctx context.Context, id string) error
}

// SceneStore defines what the handlers need from scene storage.
type SceneStore interface {
	Create(ctx context.Context, create *models.SceneCreate) (*models.Scene, error)
	GetByID(ctx context.Context, id string) (*models.Scene, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Scene, error)
	Update(ctx context.Context, id string, update *models.SceneUpdate) (*models.Scene, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, projectID string, orderedIDs []string) ([]*models.Scene, error)
}

// ObjectStore defines what the handlers need from story object storage.
type ObjectStore interface {
	Create(ctx context.Context, create *models.StoryObjectCreate) (*models.StoryObject, error)
	GetByID(ctx context.Context, id string) (*models.StoryObject, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.StoryObject, error)
	Update(ctx context.Context, id string, update *models.StoryObjectUpdate) (*models.StoryObject, error)
	Delete(ctx context.Context, id string) error
}

// AnalysisStore defines what the handlers need from analysis storage.
type AnalysisStore interface {
	GetByID(ctx context.Context, id string) (*models.AIAnalysis, error)
	ListByTarget(ctx context.Context, targetType models.TargetType, targetID string) ([]*models.AIAnalysis, error)
}

// UserStore defines what the handlers need from the user/token ledger.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	DeductTokens(ctx context.Context, userID string, cost int) (remaining int, err error)
	RefundTokens(ctx context.Context, userID string, cost int) error
}

// Broadcaster pushes authoritative mutation echoes to collaboration rooms.
// Implemented by the hub.
type Broadcaster interface {
	BroadcastMutation(roomType string, payload *models.MutationBroadcastPayload) error
}

// CriticSubmitter queues critique jobs.
type CriticSubmitter interface {
	SubmitJob(job services.AnalysisJob) error
	GetQueueLength() int
}

// EmbeddingSubmitter queues scene embedding jobs.
type EmbeddingSubmitter interface {
	SubmitJob(job services.EmbeddingJob) error
	GetQueueLength() int
}
