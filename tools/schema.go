package tools

// JSON Schema builders for tool input schemas.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = append([]string(nil), required...)
	}
	return schema
}

func property(kind, description string) map[string]interface{} {
	p := map[string]interface{}{"type": kind}
	if description != "" {
		p["description"] = description
	}
	return p
}

// StringProperty creates a string property.
func StringProperty(description string) map[string]interface{} {
	return property("string", description)
}

// StringEnumProperty creates a string property restricted to values.
func StringEnumProperty(description string, values ...string) map[string]interface{} {
	p := property("string", description)
	p["enum"] = append([]string(nil), values...)
	return p
}

// NumberProperty creates a number property.
func NumberProperty(description string) map[string]interface{} {
	return property("number", description)
}

// IntegerProperty creates an integer property.
func IntegerProperty(description string) map[string]interface{} {
	return property("integer", description)
}

// BooleanProperty creates a boolean property.
func BooleanProperty(description string) map[string]interface{} {
	return property("boolean", description)
}

// ArrayProperty creates an array property with the given item schema.
func ArrayProperty(description string, items map[string]interface{}) map[string]interface{} {
	p := property("array", description)
	p["items"] = items
	return p
}

// WithThought returns a copy of schema with the optional "thought" argument
// read by core.ThoughtOf. The input schema is not modified.
func WithThought(schema map[string]interface{}, requireThought bool) map[string]interface{} {
	result := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		result[k] = v
	}

	props := map[string]interface{}{}
	if existing, ok := schema["properties"].(map[string]interface{}); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["thought"] = StringProperty("Why this tool is being called and what result is expected.")
	result["properties"] = props

	if requireThought {
		required, _ := schema["required"].([]string)
		result["required"] = append(append([]string(nil), required...), "thought")
	}
	return result
}
