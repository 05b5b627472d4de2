package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type TargetType string

const (
	TargetScene   TargetType = "scene"
	TargetProject TargetType = "project"
)

// AIAnalysis is one completed critique. A (target_id, critic_type) pair can
// accumulate many analyses over time; only the most recent one is "active"
// from a client's point of view, but all remain retrievable by ID.
// KSUID primary keys keep them time-ordered without an extra index.
type AIAnalysis struct {
	ID              string         `json:"id" gorm:"type:char(27);primaryKey"`
	CriticType      string         `json:"criticType" gorm:"type:varchar(40);not null;index:idx_analyses_target"`
	TargetID        string         `json:"targetId" gorm:"type:char(36);not null;index:idx_analyses_target"`
	TargetType      TargetType     `json:"targetType" gorm:"type:varchar(20);not null"`
	Content         string         `json:"content" gorm:"type:text;not null"`
	Rating          *int           `json:"rating,omitempty" gorm:"type:smallint"`
	Recommendations pq.StringArray `json:"recommendations,omitempty" gorm:"type:text[]"`
	TokenCost       int            `json:"tokenCost" gorm:"not null;default:0"`
	CreatedAt       time.Time      `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `json:"deletedAt,omitempty" gorm:"column:deleted_at;index"`
}

func (a *AIAnalysis) TableName() string { return "ai_analyses" }

// BeforeCreate hook generates a KSUID before inserting
func (a *AIAnalysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = ksuid.New().String()
	}
	return nil
}

// AICritic describes one critique persona. The catalog is fixed; the ID is
// the critic type carried on the wire and in analysis records.
type AICritic struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Specialty   string   `json:"specialty"`
	Description string   `json:"description"`
	FocusAreas  []string `json:"focusAreas"`
	TokenCost   int      `json:"tokenCost"`
}

// Critics is the catalog of available critique personas.
var Critics = []AICritic{
	{
		ID:          "structure",
		Name:        "Professor Syntax",
		Specialty:   "Story Structure",
		Description: "Analyzes story structure and pacing with an academic approach",
		FocusAreas:  []string{"Three-act structure", "Dramatic tension", "Scene transitions", "Plot progression"},
		TokenCost:   12,
	},
	{
		ID:          "character",
		Name:        "Character Whisperer",
		Specialty:   "Character Development",
		Description: "Examines character psychology, arcs, and relationships",
		FocusAreas:  []string{"Character arcs", "Motivation consistency", "Dialogue authenticity", "Relationships"},
		TokenCost:   12,
	},
	{
		ID:          "dialog",
		Name:        "Dialog Master",
		Specialty:   "Dialogue Quality",
		Description: "Evaluates dialogue authenticity, flow, and character voice",
		FocusAreas:  []string{"Natural speech patterns", "Character voice distinction", "Subtext", "Dialogue mechanics"},
		TokenCost:   8,
	},
	{
		ID:          "pacing",
		Name:        "Tempo Conductor",
		Specialty:   "Pacing & Rhythm",
		Description: "Assesses narrative pacing, tension building, and flow",
		FocusAreas:  []string{"Scene rhythm", "Information flow", "Tension building", "Reader engagement"},
		TokenCost:   12,
	},
	{
		ID:          "genre",
		Name:        "Genre Guru",
		Specialty:   "Genre Conventions",
		Description: "Analyzes adherence to genre expectations and tropes",
		FocusAreas:  []string{"Genre tropes", "Reader expectations", "Market fit", "Genre-specific techniques"},
		TokenCost:   10,
	},
	{
		ID:          "plot_holes",
		Name:        "Logic Detective",
		Specialty:   "Plot Consistency",
		Description: "Identifies logical inconsistencies and plot holes",
		FocusAreas:  []string{"Plot consistency", "Logical gaps", "Continuity errors", "Cause-effect chains"},
		TokenCost:   15,
	},
	{
		ID:          "conflict",
		Name:        "Conflict Architect",
		Specialty:   "Conflict Development",
		Description: "Evaluates conflict escalation, stakes, and resolution",
		FocusAreas:  []string{"Conflict types", "Escalation patterns", "Resolution satisfaction", "Stakes progression"},
		TokenCost:   8,
	},
	{
		ID:          "world_building",
		Name:        "World Weaver",
		Specialty:   "Setting & World",
		Description: "Examines world-building, setting consistency, and atmosphere",
		FocusAreas:  []string{"Setting consistency", "Cultural logic", "Environmental details", "World rules"},
		TokenCost:   10,
	},
}

// CriticByID looks up a critic persona by its wire identifier.
func CriticByID(id string) (*AICritic, bool) {
	for i := range Critics {
		if Critics[i].ID == id {
			return &Critics[i], true
		}
	}
	return nil, false
}
