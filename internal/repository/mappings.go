package repository

import "strings"

// TemplateName is the composable index template installed by init.
const TemplateName = "devlogs-template"

// LegacyTemplateNames are templates written by older releases. init
// removes them so they cannot shadow the current mapping.
var LegacyTemplateNames = []string{"devlogs-logs-template", "devlogs-ops-template", "devlogs-template"}

// TemplatePattern returns the index pattern the template applies to.
func TemplatePattern(index string) string {
	if strings.HasPrefix(index, "devlogs-") {
		return "devlogs-*"
	}
	return index
}

func entryProperties() map[string]any {
	return map[string]any{
		"timestamp":           map[string]any{"type": "date"},
		"level":               map[string]any{"type": "keyword"},
		"logger_name":         map[string]any{"type": "keyword"},
		"message":             map[string]any{"type": "text"},
		"area":                map[string]any{"type": "keyword"},
		"operation_id":        map[string]any{"type": "keyword"},
		"parent_operation_id": map[string]any{"type": "keyword"},
		"pathname":            map[string]any{"type": "keyword"},
		"lineno":              map[string]any{"type": "integer"},
		"exception":           map[string]any{"type": "text"},
		"features":            map[string]any{"type": "object", "dynamic": true},
	}
}

// LogMappings returns the mapping shared by children and operation documents.
func LogMappings() map[string]any {
	props := entryProperties()
	props["doc_type"] = map[string]any{
		"type":      "join",
		"relations": map[string]any{"operation": "log_entry"},
	}
	props["levelno"] = map[string]any{"type": "integer"}
	props["funcName"] = map[string]any{"type": "keyword"}
	props["thread"] = map[string]any{"type": "long"}
	props["process"] = map[string]any{"type": "integer"}
	props["start_time"] = map[string]any{"type": "date"}
	props["end_time"] = map[string]any{"type": "date"}
	props["counts_by_level"] = map[string]any{"type": "object"}
	props["error_count"] = map[string]any{"type": "integer"}
	props["last_message"] = map[string]any{"type": "text"}
	nested := entryProperties()
	nested["source_id"] = map[string]any{"type": "keyword"}
	props["entries"] = map[string]any{"type": "nested", "properties": nested}

	return map[string]any{"properties": props}
}

// IndexSettings returns the settings applied to new log indices.
func IndexSettings() map[string]any {
	return map[string]any{"number_of_shards": 1}
}

// LogIndexTemplate returns the composable template body for index.
func LogIndexTemplate(index string) map[string]any {
	return map[string]any{
		"index_patterns": []string{TemplatePattern(index)},
		"priority":       100,
		"template": map[string]any{
			"settings": IndexSettings(),
			"mappings": LogMappings(),
		},
	}
}

// CreateIndexBody returns the body used when init creates the index directly.
func CreateIndexBody() map[string]any {
	return map[string]any{
		"settings": IndexSettings(),
		"mappings": LogMappings(),
	}
}
