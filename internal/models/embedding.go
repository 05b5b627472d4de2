package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// SceneEmbedding is one embedded chunk of a scene's content. Embeddings are
// regenerated wholesale whenever the scene is updated and feed the
// related-scene context that critics receive alongside the target text.
type SceneEmbedding struct {
	ID         string          `json:"id" gorm:"type:char(27);primaryKey"`
	SceneID    string          `json:"scene_id" gorm:"type:char(36);not null;index"`
	ChunkIndex int             `json:"chunk_index" gorm:"not null"`
	ChunkText  string          `json:"chunk_text" gorm:"type:text;not null"`
	Embedding  pgvector.Vector `json:"embedding" gorm:"type:vector(1536);not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	DeletedAt  gorm.DeletedAt  `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates a KSUID before inserting
func (e *SceneEmbedding) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = ksuid.New().String()
	}
	return nil
}

// RelatedScene is a similarity-search hit used as critique context.
type RelatedScene struct {
	SceneID   string  `json:"scene_id"`
	Title     string  `json:"title"`
	ChunkText string  `json:"chunk_text"`
	Score     float32 `json:"score"` // Similarity score (0-1)
}
