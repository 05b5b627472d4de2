package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"storyforge/internal/middleware"
	"storyforge/internal/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
)

// AnalysisJob is one accepted critique request. Token cost has already been
// deducted by the time a job enters the queue; a failed job refunds it.
type AnalysisJob struct {
	TargetID   string
	TargetType models.TargetType
	CriticType string
	UserID     string
}

// criticVerdict is the JSON shape the model is instructed to return.
type criticVerdict struct {
	Content         string   `json:"content"`
	Rating          *int     `json:"rating,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// CriticService runs critique jobs through a worker pool. Results are
// persisted and then pushed to the target's room; the REST response to the
// original request only ever means "job accepted".
type CriticService struct {
	api   *anthropic.Client
	model anthropic.Model

	sceneRepo    SceneRepository
	projectRepo  ProjectRepository
	analysisRepo AnalysisRepository
	userRepo     UserRepository
	embRepo      EmbeddingRepository
	embedder     Embedder
	publisher    ResultPublisher

	jobs    chan AnalysisJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCriticService creates the critique worker pool (not yet started).
func NewCriticService(
	apiKey string,
	model string,
	sceneRepo SceneRepository,
	projectRepo ProjectRepository,
	analysisRepo AnalysisRepository,
	userRepo UserRepository,
	embRepo EmbeddingRepository,
	embedder Embedder,
	publisher ResultPublisher,
	numWorkers, queueSize int,
) *CriticService {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)

	ctx, cancel := context.WithCancel(context.Background())

	return &CriticService{
		api:          &client,
		model:        anthropic.Model(model),
		sceneRepo:    sceneRepo,
		projectRepo:  projectRepo,
		analysisRepo: analysisRepo,
		userRepo:     userRepo,
		embRepo:      embRepo,
		embedder:     embedder,
		publisher:    publisher,
		jobs:         make(chan AnalysisJob, queueSize),
		workers:      numWorkers,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start spawns the worker goroutines.
func (s *CriticService) Start() {
	log.Printf("🔧 Starting critic worker pool with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	log.Println("✓ Critic worker pool started")
}

func (s *CriticService) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case job, ok := <-s.jobs:
			if !ok {
				return
			}

			log.Printf("  Critic worker %d analyzing %s %s (%s)", id, job.TargetType, job.TargetID, job.CriticType)
			if err := s.processAnalysis(job); err != nil {
				log.Printf("  Critic worker %d error: %v", id, err)
				s.failJob(job, err)
			}
		}
	}
}

// SubmitJob queues a critique job. Non-blocking; a full queue is an error so
// the caller can report it instead of stalling a request handler.
func (s *CriticService) SubmitJob(job AnalysisJob) error {
	select {
	case s.jobs <- job:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("critic service is shutting down")
	default:
		return fmt.Errorf("critique queue is full")
	}
}

func (s *CriticService) processAnalysis(job AnalysisJob) error {
	ctx, span := middleware.StartSpan(s.ctx, "CriticService.ProcessAnalysis",
		attribute.String("target.id", job.TargetID),
		attribute.String("target.type", string(job.TargetType)),
		attribute.String("critic.type", job.CriticType),
	)
	defer span.End()

	critic, ok := models.CriticByID(job.CriticType)
	if !ok {
		return fmt.Errorf("unknown critic type %q", job.CriticType)
	}

	content, projectID, err := s.loadTargetContent(ctx, job)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	related := s.relatedContext(ctx, job, projectID, content)

	verdict, err := s.critique(ctx, critic, job.TargetType, content, related)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return fmt.Errorf("critique call failed: %w", err)
	}

	analysis := &models.AIAnalysis{
		CriticType:      critic.ID,
		TargetID:        job.TargetID,
		TargetType:      job.TargetType,
		Content:         verdict.Content,
		Rating:          verdict.Rating,
		Recommendations: verdict.Recommendations,
		TokenCost:       critic.TokenCost,
	}

	if err := s.analysisRepo.Store(ctx, analysis); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	s.publisher.PublishAnalysis(analysis)
	return nil
}

// failJob refunds the deducted tokens and pushes an analysis_error event so
// the requesting client stops spinning.
func (s *CriticService) failJob(job AnalysisJob, cause error) {
	if critic, ok := models.CriticByID(job.CriticType); ok && job.UserID != "" {
		if err := s.userRepo.RefundTokens(context.Background(), job.UserID, critic.TokenCost); err != nil {
			log.Printf("⚠️  Failed to refund tokens for user %s: %v", job.UserID, err)
		}
	}

	s.publisher.PublishAnalysisError(job.TargetType, job.TargetID, job.CriticType,
		models.CodeAnalysisFailed, cause.Error())
}

// loadTargetContent assembles the text to critique. For a project target the
// scenes are concatenated in sort order.
func (s *CriticService) loadTargetContent(ctx context.Context, job AnalysisJob) (content, projectID string, err error) {
	switch job.TargetType {
	case models.TargetScene:
		scene, err := s.sceneRepo.GetByID(ctx, job.TargetID)
		if err != nil {
			return "", "", err
		}
		return fmt.Sprintf("# %s\n\n%s", scene.Title, scene.Content), scene.ProjectID, nil

	case models.TargetProject:
		project, err := s.projectRepo.GetByID(ctx, job.TargetID)
		if err != nil {
			return "", "", err
		}
		scenes, err := s.sceneRepo.ListByProject(ctx, job.TargetID)
		if err != nil {
			return "", "", err
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "# %s (%s)\n\n", project.Title, project.Genre)
		for _, scene := range scenes {
			fmt.Fprintf(&sb, "## %s\n\n%s\n\n", scene.Title, scene.Content)
		}
		return sb.String(), project.ID, nil

	default:
		return "", "", fmt.Errorf("unknown target type %q", job.TargetType)
	}
}

// relatedContext retrieves similar scene chunks from the same project to
// ground the critique. Best-effort: retrieval failures degrade to an
// uncontextualized critique rather than failing the job.
func (s *CriticService) relatedContext(ctx context.Context, job AnalysisJob, projectID, content string) []*models.RelatedScene {
	if job.TargetType != models.TargetScene || projectID == "" {
		return nil
	}

	excerpt := content
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}

	vector, err := s.embedder.CreateEmbedding(ctx, excerpt)
	if err != nil {
		log.Printf("⚠️  Related-scene embedding failed for %s: %v", job.TargetID, err)
		return nil
	}

	related, err := s.embRepo.RelatedScenes(ctx, projectID, job.TargetID, vector, 3)
	if err != nil {
		log.Printf("⚠️  Related-scene search failed for %s: %v", job.TargetID, err)
		return nil
	}
	return related
}

// critique calls the model with the critic persona and parses its verdict.
func (s *CriticService) critique(ctx context.Context, critic *models.AICritic, targetType models.TargetType, content string, related []*models.RelatedScene) (*criticVerdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	systemPrompt, userPrompt := buildCriticPrompt(critic, targetType, content, related)

	msg, err := s.api.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseVerdict(text)
}

// buildCriticPrompt constructs the system and user prompts for a critique.
func buildCriticPrompt(critic *models.AICritic, targetType models.TargetType, content string, related []*models.RelatedScene) (system, user string) {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, an AI story critic specializing in %s. %s\n",
		critic.Name, critic.Specialty, critic.Description)
	fmt.Fprintf(&sys, "Focus areas: %s.\n\n", strings.Join(critic.FocusAreas, ", "))
	sys.WriteString(`Return ONLY a JSON object with these fields:
- "content": your critique as markdown prose
- "rating": an integer 1-10 for the work as seen through your specialty
- "recommendations": an array of 2-5 short, concrete suggestions

Return valid JSON only, no markdown fencing or explanation.`)

	var sb strings.Builder
	if len(related) > 0 {
		sb.WriteString("Related scenes from the same project, for context only:\n\n")
		for _, r := range related {
			fmt.Fprintf(&sb, "[%s] %s\n\n", r.Title, r.ChunkText)
		}
		sb.WriteString("---\n\n")
	}
	fmt.Fprintf(&sb, "Critique this %s:\n\n%s", targetType, content)

	return sys.String(), sb.String()
}

// parseVerdict decodes the model's JSON verdict, tolerating markdown fences.
// A response that is not JSON at all is kept verbatim as the critique text.
func parseVerdict(text string) (*criticVerdict, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var verdict criticVerdict
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return &criticVerdict{Content: text}, nil
	}
	if verdict.Content == "" {
		return nil, fmt.Errorf("verdict has no content")
	}
	if verdict.Rating != nil && (*verdict.Rating < 1 || *verdict.Rating > 10) {
		verdict.Rating = nil
	}
	return &verdict, nil
}

// Shutdown stops accepting jobs and waits for in-flight critiques.
func (s *CriticService) Shutdown() {
	log.Println("🛑 Shutting down critic service...")

	close(s.jobs)
	s.cancel()
	s.wg.Wait()

	log.Println("✓ Critic service shutdown complete")
}

// GetQueueLength returns the current number of pending jobs.
func (s *CriticService) GetQueueLength() int {
	return len(s.jobs)
}
