package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"storyforge/internal/models"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingJob represents a scene whose content needs (re)embedding.
type EmbeddingJob struct {
	SceneID string
	Content string
}

// SceneEmbeddingService regenerates scene embeddings through a fixed-size
// worker pool. The bounded queue gives backpressure and caps concurrent
// embedding API calls.
type SceneEmbeddingService struct {
	embedder Embedder
	embRepo  EmbeddingRepository

	jobs    chan EmbeddingJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSceneEmbeddingService creates the service with an idle worker pool.
func NewSceneEmbeddingService(embedder Embedder, embRepo EmbeddingRepository, numWorkers, queueSize int) *SceneEmbeddingService {
	ctx, cancel := context.WithCancel(context.Background())

	return &SceneEmbeddingService{
		embedder: embedder,
		embRepo:  embRepo,
		jobs:     make(chan EmbeddingJob, queueSize),
		workers:  numWorkers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start spawns the worker goroutines.
func (s *SceneEmbeddingService) Start() {
	log.Printf("🔧 Starting embedding worker pool with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	log.Println("✓ Embedding worker pool started")
}

func (s *SceneEmbeddingService) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case job, ok := <-s.jobs:
			if !ok {
				return
			}

			if err := s.processEmbedding(job); err != nil {
				log.Printf("  Embedding worker %d error for scene %s: %v", id, job.SceneID, err)
			}
		}
	}
}

// SubmitJob queues a scene for embedding. Blocks when the queue is full.
func (s *SceneEmbeddingService) SubmitJob(job EmbeddingJob) error {
	select {
	case s.jobs <- job:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("embedding service is shutting down")
	}
}

func (s *SceneEmbeddingService) processEmbedding(job EmbeddingJob) error {
	ctx := context.Background()

	// Old chunks are replaced wholesale; partial updates would leave stale
	// vectors behind.
	if err := s.embRepo.DeleteBySceneID(ctx, job.SceneID); err != nil {
		return fmt.Errorf("failed to delete old embeddings: %w", err)
	}

	chunks := chunkText(job.Content, 500)

	for i, chunk := range chunks {
		vector, err := s.embedder.CreateEmbedding(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to generate embedding for chunk %d: %w", i, err)
		}

		embedding := &models.SceneEmbedding{
			SceneID:    job.SceneID,
			ChunkIndex: i,
			ChunkText:  chunk,
			Embedding:  pgvector.NewVector(vector),
		}

		if err := s.embRepo.StoreEmbedding(ctx, embedding); err != nil {
			return fmt.Errorf("failed to store embedding for chunk %d: %w", i, err)
		}
	}

	return nil
}

// chunkText splits text into chunks of approximately maxWords words.
func chunkText(text string, maxWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}

	var chunks []string
	for i := 0; i < len(words); i += maxWords {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}

	return chunks
}

// Shutdown stops accepting jobs and waits for workers to drain.
func (s *SceneEmbeddingService) Shutdown() {
	log.Println("🛑 Shutting down embedding service...")

	close(s.jobs)
	s.cancel()
	s.wg.Wait()

	log.Println("✓ Embedding service shutdown complete")
}

// GetQueueLength returns the current number of pending jobs.
func (s *SceneEmbeddingService) GetQueueLength() int {
	return len(s.jobs)
}
