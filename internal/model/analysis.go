package model

import (
	"time"
)

// AnalyzerAgent is the agent name of artifact analysis conversations.
const AnalyzerAgent = "artifact_analyzer"

// AgentConversation is a persisted chat with the analysis assistant.
type AgentConversation struct {
	Record
	AgentName string            `json:"agent_name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Messages  []AgentMessage    `json:"messages"`
}

// AgentMessage is one turn of an agent conversation.
type AgentMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	FileURLs  []string  `json:"file_urls,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisMessageRequest posts a user turn to an analysis conversation.
type AnalysisMessageRequest struct {
	Content     string   `json:"content"`
	ArtifactIDs []string `json:"artifact_ids,omitempty"`
}

// CatalogResult is the structured output of AI cataloging.
type CatalogResult struct {
	ArtifactType       string           `json:"artifact_type" jsonschema:"enum=pottery,enum=glass,enum=metal,enum=stone,enum=bone,enum=textile,enum=wood,enum=other"`
	FunctionalType     string           `json:"functional_type" jsonschema:"enum=weapon,enum=tool,enum=ornament,enum=vessel,enum=building_material,enum=religious_object,enum=coin,enum=inscription,enum=other"`
	TimePeriod         string           `json:"time_period" jsonschema:"enum=paleolithic,enum=mesolithic,enum=neolithic,enum=bronze_age,enum=iron_age,enum=classical_antiquity,enum=medieval,enum=renaissance,enum=modern"`
	Material           string           `json:"material"`
	Country            string           `json:"country"`
	EstimatedDate      string           `json:"estimated_date"`
	ConfidenceScores   ConfidenceScores `json:"confidence_scores"`
	Reasoning          string           `json:"reasoning"`
	PotentialDuplicate bool             `json:"potential_duplicate"`
	DuplicateReasoning string           `json:"duplicate_reasoning"`
}

// ConfidenceScores are 0-100 confidence values per classification.
type ConfidenceScores struct {
	ArtifactType   float64 `json:"artifact_type" jsonschema:"minimum=0,maximum=100"`
	FunctionalType float64 `json:"functional_type" jsonschema:"minimum=0,maximum=100"`
	TimePeriod     float64 `json:"time_period" jsonschema:"minimum=0,maximum=100"`
	Material       float64 `json:"material" jsonschema:"minimum=0,maximum=100"`
	Overall        float64 `json:"overall" jsonschema:"minimum=0,maximum=100"`
}

// CompareRequest asks for a comparison of 2 to 5 artifacts.
type CompareRequest struct {
	ArtifactIDs []string `json:"artifact_ids"`
	Save        bool     `json:"save,omitempty"`
}

// Comparison is a generated comparison analysis.
type Comparison struct {
	ID            string    `json:"id"`
	ArtifactIDs   []string  `json:"artifact_ids"`
	ArtifactCodes []string  `json:"artifact_codes"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReportRequest asks for a collection report over the selected sections.
type ReportRequest struct {
	Sections map[string]bool `json:"sections"`
	Save     bool            `json:"save,omitempty"`
}

// Report is a generated collection report.
type Report struct {
	ID            string          `json:"id"`
	Content       string          `json:"content"`
	Sections      []string        `json:"sections"`
	Options       map[string]bool `json:"options"`
	ArtifactCount int             `json:"artifact_count"`
	CreatedAt     time.Time       `json:"created_at"`
}
