package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"assetforge/internal/domain"
)

var statusAliases = map[string]domain.RemoteStatus{
	"success":     domain.RemoteStatusSuccess,
	"succeeded":   domain.RemoteStatusSuccess,
	"complete":    domain.RemoteStatusSuccess,
	"completed":   domain.RemoteStatusSuccess,
	"pending":     domain.RemoteStatusQueued,
	"queued":      domain.RemoteStatusQueued,
	"dispatched":  domain.RemoteStatusQueued,
	"running":     domain.RemoteStatusRunning,
	"processing":  domain.RemoteStatusRunning,
	"in_progress": domain.RemoteStatusRunning,
	"failed":      domain.RemoteStatusFailed,
	"error":       domain.RemoteStatusFailed,
	"cancelled":   domain.RemoteStatusCancelled,
	"canceled":    domain.RemoteStatusCancelled,
	"abort":       domain.RemoteStatusCancelled,
	"aborted":     domain.RemoteStatusCancelled,
	"timeout":     domain.RemoteStatusTimeout,
	"timed_out":   domain.RemoteStatusTimeout,
	"expired":     domain.RemoteStatusTimeout,
}

// outputURLFields is the lookup order for the result location inside an
// object-shaped output.
var outputURLFields = []string{"model_url", "glb", "file_url", "image_url", "url"}

// NormalizeStatus maps a vendor status string onto RemoteStatus.
func NormalizeStatus(raw string) (domain.RemoteStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	status, ok := statusAliases[key]
	return status, ok
}

// parseStatus decodes a status body. A status string outside the alias table
// is treated as still running and reported through unknown so the caller can
// log it; only an undecodable body or a missing status is an error.
func parseStatus(raw []byte) (job *domain.RemoteJob, unknown string, err error) {
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, "", fmt.Errorf("%w: status response: %v", domain.ErrUpstreamParse, err)
	}
	if strings.TrimSpace(decoded.Status) == "" {
		return nil, "", fmt.Errorf("%w: status missing", domain.ErrUpstreamParse)
	}
	status, ok := NormalizeStatus(decoded.Status)
	if !ok {
		status = domain.RemoteStatusRunning
		unknown = decoded.Status
	}
	location, err := outputLocation(decoded.Output)
	if err != nil {
		return nil, "", err
	}
	if status == domain.RemoteStatusSuccess && location == "" {
		return nil, "", fmt.Errorf("%w: success without output", domain.ErrUpstreamParse)
	}
	return &domain.RemoteJob{
		Status:         status,
		ResultLocation: location,
		Message:        coalesce(decoded.Message, decoded.Error),
	}, unknown, nil
}

// outputLocation accepts either a bare string or an object carrying one of
// the known URL fields.
func outputLocation(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: output: %v", domain.ErrUpstreamParse, err)
		}
		return strings.TrimSpace(s), nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("%w: output: %v", domain.ErrUpstreamParse, err)
	}
	for _, name := range outputURLFields {
		if s, ok := fields[name].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", nil
}
