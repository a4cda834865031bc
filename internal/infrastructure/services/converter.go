package services

const (
	flagReadOnly = "readOnly"
	flagSecret   = "x-ms-secret"
)

// ResponseToRequest turns a resource representation into a request body by
// dropping properties the schema marks readOnly.
func ResponseToRequest(body any, schema map[string]any) any {
	return strip(DeepCopy(body), schema, flagReadOnly)
}

// RequestToResponse turns a request body into the expected response by
// dropping properties the schema marks x-ms-secret.
func RequestToResponse(body any, schema map[string]any) any {
	return strip(DeepCopy(body), schema, flagSecret)
}

func strip(v any, schema map[string]any, flag string) any {
	if schema == nil {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		props := properties(schema, 0)
		extra, _ := schema["additionalProperties"].(map[string]any)
		for k, e := range t {
			ps, ok := props[k]
			if !ok {
				ps = extra
			}
			if marked, _ := ps[flag].(bool); marked {
				delete(t, k)
				continue
			}
			t[k] = strip(e, ps, flag)
		}
		return t
	case []any:
		items, _ := schema["items"].(map[string]any)
		for i, e := range t {
			t[i] = strip(e, items, flag)
		}
		return t
	default:
		return v
	}
}

// properties collects the property schemas of schema, including those
// inherited through allOf.
func properties(schema map[string]any, depth int) map[string]map[string]any {
	out := make(map[string]map[string]any)
	if schema == nil || depth > 16 {
		return out
	}
	if all, ok := schema["allOf"].([]any); ok {
		for _, s := range all {
			if sub, ok := s.(map[string]any); ok {
				for k, v := range properties(sub, depth+1) {
					out[k] = v
				}
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for k, v := range props {
			if ps, ok := v.(map[string]any); ok {
				out[k] = ps
			}
		}
	}
	return out
}
