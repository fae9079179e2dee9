package command

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt64
	FieldInt64List
	FieldBool
)

// FieldPlace says where a field goes in the request.
type FieldPlace int

const (
	InBody FieldPlace = iota
	InPath
	InQuery
)

// Field defines a console input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Place    FieldPlace
	Required bool
}

// Command defines a console command bound to an ops API route.
type Command struct {
	Group        string
	Action       string
	Summary      string
	Method       string
	PathTemplate string
	RequiresAuth bool
	Fields       []Field
}

// Key is the registry key, "group action".
func (c Command) Key() string {
	return c.Group + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method string
	Path   string
	Body   []byte
}

// Params holds parsed key=value input.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

func ParseInt64(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func ParseStringList(value string) []string {
	raw := strings.Split(value, ",")
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func ParseInt64List(value string) ([]int64, error) {
	items := ParseStringList(value)
	result := make([]int64, 0, len(items))
	for _, item := range items {
		n, err := ParseInt64(item)
		if err != nil {
			return nil, fmt.Errorf("invalid id list value: %w", err)
		}
		result = append(result, n)
	}
	return result, nil
}

func parseValue(field Field, raw string) (interface{}, error) {
	switch field.Type {
	case FieldInt64:
		n, err := ParseInt64(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s: %q", field.Name, raw)
		}
		return n, nil
	case FieldInt64List:
		ids, err := ParseInt64List(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
		}
		return ids, nil
	case FieldBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", field.Name, raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}
