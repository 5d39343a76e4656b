package domain

import (
	"strings"
	"time"
)

// Provider identifies which external generator serves a request.
type Provider string

const (
	ProviderModel  Provider = "model"
	ProviderSkybox Provider = "skybox"
)

// ParseProvider sanitizes free-form input into a supported provider.
func ParseProvider(raw string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ProviderModel), "3d", "mesh":
		return ProviderModel, nil
	case string(ProviderSkybox), "sky", "panorama":
		return ProviderSkybox, nil
	default:
		return "", ErrUnknownProvider
	}
}

// GenerationRequest is the per-call input of the orchestrator. It is never
// persisted.
type GenerationRequest struct {
	RawPrompt string
	Provider  Provider
	Options   map[string]any
}

// CachedArtifact is a previously produced asset, reusable by any request whose
// canonical key or prompt matches.
type CachedArtifact struct {
	ID               string    `json:"id"`
	CanonicalKey     string    `json:"canonical_key"`
	Provider         Provider  `json:"provider"`
	RawPromptsSeen   []string  `json:"raw_prompts_seen"`
	ArtifactLocation string    `json:"artifact_location"`
	ProviderID       string    `json:"provider_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias repository state.
func (a *CachedArtifact) Clone() *CachedArtifact {
	if a == nil {
		return nil
	}
	cp := *a
	cp.RawPromptsSeen = append([]string(nil), a.RawPromptsSeen...)
	return &cp
}

// AddPrompt extends the seen set. It reports whether the prompt was new.
func (a *CachedArtifact) AddPrompt(prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return false
	}
	for _, seen := range a.RawPromptsSeen {
		if strings.EqualFold(seen, prompt) {
			return false
		}
	}
	a.RawPromptsSeen = append(a.RawPromptsSeen, prompt)
	return true
}

// RemoteStatus enumerates the lifecycle of a job on the external generator.
type RemoteStatus string

const (
	RemoteStatusQueued    RemoteStatus = "QUEUED"
	RemoteStatusRunning   RemoteStatus = "RUNNING"
	RemoteStatusSuccess   RemoteStatus = "SUCCESS"
	RemoteStatusFailed    RemoteStatus = "FAILED"
	RemoteStatusCancelled RemoteStatus = "CANCELLED"
	RemoteStatusTimeout   RemoteStatus = "TIMEOUT"
)

// Terminal reports whether no further transition can occur.
func (s RemoteStatus) Terminal() bool {
	switch s {
	case RemoteStatusSuccess, RemoteStatusFailed, RemoteStatusCancelled, RemoteStatusTimeout:
		return true
	default:
		return false
	}
}

// RemoteJob is an observed snapshot of a submitted generation task.
type RemoteJob struct {
	ExternalID     string
	Status         RemoteStatus
	ResultLocation string
	Message        string
}

// OutcomeSource tells the caller how the artifact was obtained.
type OutcomeSource string

const (
	SourceCache     OutcomeSource = "cache"
	SourceGenerated OutcomeSource = "generated"
	SourceJoined    OutcomeSource = "joined"
)

// Outcome is the successful result of one orchestration cycle.
type Outcome struct {
	CanonicalKey string
	Source       OutcomeSource
	Artifact     *CachedArtifact
}
