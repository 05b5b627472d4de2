package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"storyforge/internal/middleware"
	"storyforge/internal/models"
	"storyforge/internal/repository"
	"storyforge/internal/services"

	"github.com/gorilla/mux"
)

// Handlers carries the REST endpoints. Every write endpoint answers with the
// authoritative artifact and mirrors it to the project's collaboration room,
// so connected peers (the caller included) converge on the same state.
type Handlers struct {
	projects ProjectStore
	scenes   SceneStore
	objects  ObjectStore
	analyses AnalysisStore
	users    UserStore

	broadcaster Broadcaster
	critics     CriticSubmitter
	embeddings  EmbeddingSubmitter
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	projects ProjectStore,
	scenes SceneStore,
	objects ObjectStore,
	analyses AnalysisStore,
	users UserStore,
	broadcaster Broadcaster,
	critics CriticSubmitter,
	embeddings EmbeddingSubmitter,
) *Handlers {
	return &Handlers{
		projects:    projects,
		scenes:      scenes,
		objects:     objects,
		analyses:    analyses,
		users:       users,
		broadcaster: broadcaster,
		critics:     critics,
		embeddings:  embeddings,
	}
}

// HealthCheck reports service liveness and queue depth.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"critic_queue":    h.critics.GetQueueLength(),
		"embedding_queue": h.embeddings.GetQueueLength(),
	})
}

// GetUser returns a user profile including the token balance.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CreateProject creates a project for the authenticated user.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var create models.ProjectCreate
	if !decodeBody(w, r, &create) {
		return
	}
	if create.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	project, err := h.projects.Create(r.Context(), userID, &create)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// ListProjects returns the authenticated user's projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	projects, err := h.projects.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// GetProject returns one project.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// UpdateProject applies a partial update and echoes it to the project room.
func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update models.ProjectUpdate
	if !decodeBody(w, r, &update) {
		return
	}

	project, err := h.projects.Update(r.Context(), id, &update)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.broadcast(r, project.ID, models.MutationUpdate, "project", &models.WireArtifact{
		ID:      project.ID,
		Version: project.UpdatedAt.UnixMilli(),
		Data:    mustMarshal(project),
	}, nil)

	writeJSON(w, http.StatusOK, project)
}

// DeleteProject soft-deletes a project.
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.projects.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.broadcast(r, id, models.MutationDelete, "project", &models.WireArtifact{ID: id}, nil)

	w.WriteHeader(http.StatusNoContent)
}

// CreateScene appends a scene to a project, queues its embedding, and echoes
// the create to the project room.
func (h *Handlers) CreateScene(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	var create models.SceneCreate
	if !decodeBody(w, r, &create) {
		return
	}
	create.ProjectID = projectID
	if create.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	scene, err := h.scenes.Create(r.Context(), &create)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.queueEmbedding(scene)
	h.broadcastScene(r, models.MutationCreate, scene)

	writeJSON(w, http.StatusCreated, scene)
}

// ListScenes returns a project's scenes in sort order.
func (h *Handlers) ListScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := h.scenes.ListByProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

// GetScene returns one scene.
func (h *Handlers) GetScene(w http.ResponseWriter, r *http.Request) {
	scene, err := h.scenes.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

// UpdateScene applies a partial update, bumps the version, refreshes the
// embedding when content changed, and echoes the update.
func (h *Handlers) UpdateScene(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update models.SceneUpdate
	if !decodeBody(w, r, &update) {
		return
	}

	scene, err := h.scenes.Update(r.Context(), id, &update)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	if update.Content != nil {
		h.queueEmbedding(scene)
	}
	h.broadcastScene(r, models.MutationUpdate, scene)

	writeJSON(w, http.StatusOK, scene)
}

// DeleteScene removes a scene; peers close the order gap from the echo.
func (h *Handlers) DeleteScene(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	scene, err := h.scenes.GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := h.scenes.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.broadcast(r, scene.ProjectID, models.MutationDelete, "scene",
		&models.WireArtifact{ID: scene.ID}, nil)

	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	SceneIDs []string `json:"scene_ids"`
}

// ReorderScenes rewrites a project's scene order and broadcasts the full
// authoritative ID sequence. Partial orders are rejected by the store.
func (h *Handlers) ReorderScenes(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	var req reorderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.SceneIDs) == 0 {
		writeError(w, http.StatusBadRequest, "scene_ids is required")
		return
	}

	scenes, err := h.scenes.Reorder(r.Context(), projectID, req.SceneIDs)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	orderedIDs := make([]string, len(scenes))
	for i, s := range scenes {
		orderedIDs[i] = s.ID
	}
	h.broadcast(r, projectID, models.MutationReorder, "scene", nil, orderedIDs)

	writeJSON(w, http.StatusOK, scenes)
}

// CreateObject adds a story object to a project.
func (h *Handlers) CreateObject(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	var create models.StoryObjectCreate
	if !decodeBody(w, r, &create) {
		return
	}
	create.ProjectID = projectID
	if create.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	object, err := h.objects.Create(r.Context(), &create)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.broadcastObject(r, models.MutationCreate, object)

	writeJSON(w, http.StatusCreated, object)
}

// ListObjects returns a project's story objects.
func (h *Handlers) ListObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := h.objects.ListByProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objects)
}

// UpdateObject applies a partial update to a story object.
func (h *Handlers) UpdateObject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update models.StoryObjectUpdate
	if !decodeBody(w, r, &update) {
		return
	}

	object, err := h.objects.Update(r.Context(), id, &update)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.broadcastObject(r, models.MutationUpdate, object)

	writeJSON(w, http.StatusOK, object)
}

// DeleteObject removes a story object.
func (h *Handlers) DeleteObject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	object, err := h.objects.GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := h.objects.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.broadcast(r, object.ProjectID, models.MutationDelete, "story_object",
		&models.WireArtifact{ID: object.ID}, nil)

	w.WriteHeader(http.StatusNoContent)
}

// ListAnalyses returns stored critiques for a target, newest first.
func (h *Handlers) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	targetType := models.TargetType(r.URL.Query().Get("target_type"))
	targetID := r.URL.Query().Get("target_id")
	if targetID == "" || (targetType != models.TargetScene && targetType != models.TargetProject) {
		writeError(w, http.StatusBadRequest, "target_id and a valid target_type are required")
		return
	}

	analyses, err := h.analyses.ListByTarget(r.Context(), targetType, targetID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

// GetAnalysis returns one stored critique.
func (h *Handlers) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.analyses.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// ListCritics returns the critic catalog with token costs.
func (h *Handlers) ListCritics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Critics)
}

// RequestAnalysis deducts the critique cost and queues the job. The result
// arrives over the collaboration channel; this endpoint only acknowledges
// acceptance. Insufficient balance answers 402 with the remaining tokens.
func (h *Handlers) RequestAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req models.AnalyzeRequestPayload
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetID == "" || (req.TargetType != models.TargetScene && req.TargetType != models.TargetProject) {
		writeError(w, http.StatusBadRequest, "target_id and a valid target_type are required")
		return
	}

	critic, found := models.CriticByID(req.CriticType)
	if !found {
		writeError(w, http.StatusBadRequest, "unknown critic type")
		return
	}

	remaining, err := h.users.DeductTokens(r.Context(), userID, critic.TokenCost)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientTokens) {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":            "insufficient tokens",
				"code":             models.CodeInsufficientTokens,
				"tokens_remaining": remaining,
				"tokens_required":  critic.TokenCost,
			})
			return
		}
		writeStoreError(w, r, err)
		return
	}

	job := services.AnalysisJob{
		TargetID:   req.TargetID,
		TargetType: req.TargetType,
		CriticType: req.CriticType,
		UserID:     userID,
	}
	if err := h.critics.SubmitJob(job); err != nil {
		if refundErr := h.users.RefundTokens(r.Context(), userID, critic.TokenCost); refundErr != nil {
			log.Printf("⚠️  Failed to refund tokens for user %s: %v", userID, refundErr)
		}
		writeError(w, http.StatusServiceUnavailable, "analysis queue is full, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "queued",
		"critic_type":      req.CriticType,
		"target_id":        req.TargetID,
		"tokens_remaining": remaining,
	})
}

func (h *Handlers) broadcastScene(r *http.Request, kind models.MutationKind, scene *models.Scene) {
	h.broadcast(r, scene.ProjectID, kind, "scene", &models.WireArtifact{
		ID:      scene.ID,
		Version: scene.Version,
		Order:   scene.SortOrder,
		Data:    mustMarshal(scene),
	}, nil)
}

func (h *Handlers) broadcastObject(r *http.Request, kind models.MutationKind, object *models.StoryObject) {
	h.broadcast(r, object.ProjectID, kind, "story_object", &models.WireArtifact{
		ID:      object.ID,
		Version: object.UpdatedAt.UnixMilli(),
		Data:    mustMarshal(object),
	}, nil)
}

// broadcast mirrors a confirmed write into the project room. Broadcast
// failure never fails the HTTP request; the write is already durable.
func (h *Handlers) broadcast(r *http.Request, projectID string, kind models.MutationKind, artifactType string, artifact *models.WireArtifact, orderedIDs []string) {
	payload := &models.MutationBroadcastPayload{
		Kind:         kind,
		RoomID:       projectID,
		ArtifactType: artifactType,
		Artifact:     artifact,
		OrderedIDs:   orderedIDs,
	}
	if err := h.broadcaster.BroadcastMutation("project", payload); err != nil {
		log.Printf("⚠️  Failed to broadcast %s %s [%s]: %v", artifactType, kind, middleware.GetRequestID(r.Context()), err)
	}
}

func (h *Handlers) queueEmbedding(scene *models.Scene) {
	if scene.Content == "" {
		return
	}
	job := services.EmbeddingJob{SceneID: scene.ID, Content: scene.Content}
	if err := h.embeddings.SubmitJob(job); err != nil {
		log.Printf("⚠️  Failed to queue embedding for scene %s: %v", scene.ID, err)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps repository errors to HTTP statuses and records the
// failure on the request span.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.AddSpanError(r.Context(), err)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	log.Printf("❌ Request failed [%s]: %v", middleware.GetRequestID(r.Context()), err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
