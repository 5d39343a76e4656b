package prompt

import (
	"errors"
	"fmt"
	"strings"

	"assetforge/internal/domain"
)

const (
	staticProviderName = "static"
	openAIProviderName = "openai"
)

// Enriched prompts outside this window are treated as malformed.
const (
	minExpandedLength = 40
	maxExpandedLength = 600
)

var (
	errEmptyExpansion   = errors.New("empty expansion")
	errExpansionTooLong = errors.New("expansion too long")
	errExpansionShort   = errors.New("expansion too short")
)

func buildExpandInstruction(req ExpandRequest) string {
	sb := &strings.Builder{}
	if req.Provider == domain.ProviderSkybox {
		sb.WriteString("Describe a single 360 degree environment for a panoramic skybox generator. ")
		sb.WriteString("Describe only what is visible: terrain, sky, lighting, weather, materials and distant landmarks. ")
	} else {
		sb.WriteString("Describe a single physical object for a 3D model generator. ")
		sb.WriteString("Describe only geometry, proportions, parts, materials and surface finish. ")
		sb.WriteString("Do not describe a scene, people, background or more than one object. ")
	}
	sb.WriteString("Do not use abstract concepts, emotions, stories or camera directions. ")
	fmt.Fprintf(sb, "Answer in plain text between %d and %d characters, without quotes or lists. Request: %q", minExpandedLength, maxExpandedLength, strings.TrimSpace(req.Prompt))
	return sb.String()
}

// cleanExpansion strips wrapping that chat models like to add and checks the
// length window.
func cleanExpansion(raw string) (string, error) {
	text := trimCodeFence(raw)
	text = strings.Trim(text, " \t\r\n\"'")
	text = strings.Join(strings.Fields(text), " ")
	switch {
	case text == "":
		return "", errEmptyExpansion
	case len(text) < minExpandedLength:
		return "", errExpansionShort
	case len(text) > maxExpandedLength:
		return "", errExpansionTooLong
	}
	return text, nil
}

func ensureMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		meta = map[string]string{}
	}
	return meta
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```text")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
