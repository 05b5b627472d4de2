package repository

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/models"

	"gorm.io/gorm"
)

// AnalysisRepositoryImpl stores completed AI critiques. History is kept per
// (target, critic) pair; the newest record is the "active" one.
type AnalysisRepositoryImpl struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *gorm.DB) *AnalysisRepositoryImpl {
	return &AnalysisRepositoryImpl{db: db}
}

// Store saves a completed critique.
func (r *AnalysisRepositoryImpl) Store(ctx context.Context, analysis *models.AIAnalysis) error {
	if err := r.db.WithContext(ctx).Create(analysis).Error; err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}
	return nil
}

// GetByID retrieves a single analysis.
func (r *AnalysisRepositoryImpl) GetByID(ctx context.Context, id string) (*models.AIAnalysis, error) {
	var analysis models.AIAnalysis

	err := r.db.WithContext(ctx).First(&analysis, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("analysis %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &analysis, nil
}

// ListByTarget returns all analyses for a scene or project, newest first.
// KSUIDs are time-ordered, so sorting by ID sorts by creation time.
func (r *AnalysisRepositoryImpl) ListByTarget(ctx context.Context, targetType models.TargetType, targetID string) ([]*models.AIAnalysis, error) {
	var analyses []*models.AIAnalysis

	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("id DESC").
		Find(&analyses).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	return analyses, nil
}

// LatestByCritic returns the newest analysis for a (target, critic) pair.
func (r *AnalysisRepositoryImpl) LatestByCritic(ctx context.Context, targetID, criticType string) (*models.AIAnalysis, error) {
	var analysis models.AIAnalysis

	err := r.db.WithContext(ctx).
		Where("target_id = ? AND critic_type = ?", targetID, criticType).
		Order("id DESC").
		First(&analysis).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("analysis for %s/%s: %w", targetID, criticType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}

	return &analysis, nil
}
