package replay

import (
	"encoding/json"
	"net/url"
	"strings"
)

type requestDocument map[string]interface{}

// parseRequestDocument exposes a request to JSONPath constraints. Bodies that
// are not JSON are kept as plain text.
func parseRequestDocument(data []byte, u *url.URL) requestDocument {
	queryValues := parseQueryValues(u)

	var body interface{} = string(data)
	if len(data) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(data, &parsed); err == nil {
			body = parsed
		}
	}

	return requestDocument{
		"path":  u.Path,
		"body":  body,
		"query": queryValues,
	}
}

func parseQueryValues(u *url.URL) map[string]interface{} {
	queryValues := make(map[string]interface{})
	for q, v := range u.Query() {
		if len(v) > 0 {
			escapeValue(queryValues, q, v[0])
		}
	}
	return queryValues
}

func (r requestDocument) encodeValues(val string) string {
	query := r["query"].(map[string]interface{})
	return encodeMapValues(query, val)
}

func encodeMapValues(m map[string]interface{}, val string) string {
	result := val
	for k, v := range m {
		result = strings.ReplaceAll(result, "["+k+"]", "[\""+k+"\"]")
		switch val := v.(type) {
		case map[string]interface{}:
			result = encodeMapValues(val, result)
		}
	}
	return result
}

func escapeValue(values map[string]interface{}, query, val string) {
	open := strings.Index(query, "[")
	if open > -1 {
		key := query[:open]
		rest := query[open+1:]
		closing := strings.Index(rest, "]")
		if closing < 0 {
			values[query] = val
			return
		}

		subKey := rest[:closing]
		next := rest[closing+1:]

		existingValue := values[key]
		valueMap, ok := existingValue.(map[string]interface{})
		if !ok {
			valueMap = make(map[string]interface{})
			values[key] = valueMap
		}
		escapeValue(valueMap, subKey+next, val)
		return
	}
	values[query] = val
}
