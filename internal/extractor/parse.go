package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compliance-cli/internal/model"
)

// ParseFields parses a model response into a field mapping. Keys outside the
// profile schema are dropped; null or empty values leave the key absent.
func ParseFields(text string) (map[string]string, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("parse: no JSON object in response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "parse: unmarshal response")
	}

	fields := make(map[string]string)
	for _, key := range model.FieldOrder {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s == "" || strings.EqualFold(s, "null") {
			continue
		}
		fields[key] = s
	}

	return fields, nil
}

func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}

	return strings.TrimSpace(text[start : end+1])
}
