package tools

import (
	"reflect"
	"strings"
)

// SchemaFor derives a JSON schema for the argument type of a function tool.
// Fields without omitempty are required.
func SchemaFor(valueType reflect.Type) map[string]any {
	return schemaFor(valueType, map[reflect.Type]bool{})
}

func schemaFor(valueType reflect.Type, seen map[reflect.Type]bool) map[string]any {
	if seen[valueType] {
		return map[string]any{
			"$ref": "#",
		}
	}

	switch valueType.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float64, reflect.Float32:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{
			"type":  "array",
			"items": schemaFor(valueType.Elem(), seen),
		}
	case reflect.Map:
		return map[string]any{"type": "object"}
	case reflect.Pointer:
		return schemaFor(valueType.Elem(), seen)
	case reflect.Struct:
		seen[valueType] = true
		defer delete(seen, valueType)

		properties := map[string]any{}
		var required []string
		for i := range valueType.NumField() {
			field := valueType.Field(i)
			if !field.IsExported() {
				continue
			}

			name, omitempty := field.Name, false
			if tag, ok := field.Tag.Lookup("json"); ok {
				tagName, opts, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
				omitempty = strings.Contains(opts, "omitempty")
			}

			fieldSchema := schemaFor(field.Type, seen)
			if desc, ok := field.Tag.Lookup("description"); ok {
				fieldSchema["description"] = desc
			}
			properties[name] = fieldSchema
			if !omitempty {
				required = append(required, name)
			}
		}

		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	default:
		return map[string]any{}
	}
}
