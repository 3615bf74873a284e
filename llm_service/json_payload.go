package llm_service

import (
	"encoding/json"
	"strings"
)

// LLM responses embed JSON in free text. RecoverJSON runs an ordered
// chain of strategies and returns the first payload that parses:
//  1. the whole response body,
//  2. a fenced block tagged json,
//  3. any fenced block.
// Each strategy reports present/absent instead of failing, so callers
// can treat an unrecoverable response as an empty result.
type payloadStrategy func(raw string) (string, bool)

var payloadStrategies = []payloadStrategy{
	wholeBodyPayload,
	taggedFencePayload,
	anyFencePayload,
}

func RecoverJSON(raw string) ([]byte, bool) {
	for _, strategy := range payloadStrategies {
		candidate, ok := strategy(raw)
		if !ok {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), true
		}
	}
	return nil, false
}

func wholeBodyPayload(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func taggedFencePayload(raw string) (string, bool) {
	return fencedPayload(raw, "```json")
}

func anyFencePayload(raw string) (string, bool) {
	return fencedPayload(raw, "```")
}

func fencedPayload(raw, opening string) (string, bool) {
	start := strings.Index(raw, opening)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(opening):]
	// Skip the remainder of the opening fence line (language tag etc.)
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return "", false
	}
	return body, true
}
