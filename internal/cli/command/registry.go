package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const apiPrefix = "/api/v1/grading"

// Registry returns all console commands keyed by "group action".
func Registry() map[string]Command {
	submissionID := Field{Name: "id", Aliases: []string{"submission", "submission_id"}, Prompt: "submission_id", Type: FieldInt64, Place: InPath, Required: true}
	caseIDs := Field{Name: "case_ids", Aliases: []string{"cases"}, Prompt: "case_ids", Type: FieldInt64List}

	commands := []Command{
		{
			Group:        "grade",
			Action:       "submission",
			Summary:      "queue every suite of a submission",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/submissions/:id/grade",
			RequiresAuth: true,
			Fields:       []Field{submissionID},
		},
		{
			Group:        "grade",
			Action:       "suite",
			Summary:      "queue one suite, optionally limited to some cases",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/submissions/:id/suites/:suite_id/grade",
			RequiresAuth: true,
			Fields: []Field{
				submissionID,
				{Name: "suite_id", Aliases: []string{"suite"}, Prompt: "suite_id", Type: FieldInt64, Place: InPath, Required: true},
				caseIDs,
			},
		},
		{
			Group:        "grade",
			Action:       "rerun",
			Summary:      "re-run a submission, optionally filtered by suites and cases",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/submissions/:id/rerun",
			RequiresAuth: true,
			Fields: []Field{
				submissionID,
				{Name: "suite_ids", Aliases: []string{"suites"}, Prompt: "suite_ids", Type: FieldInt64List},
				caseIDs,
			},
		},
		{
			Group:        "queue",
			Action:       "remove",
			Summary:      "withdraw a queued submission",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/submissions/:id/remove_from_queue",
			RequiresAuth: true,
			Fields:       []Field{submissionID},
		},
		{
			Group:        "results",
			Action:       "show",
			Summary:      "print the feedback document of a submission",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/submissions/:id/results",
			RequiresAuth: true,
			Fields: []Field{
				submissionID,
				{Name: "feedback_category", Aliases: []string{"category"}, Prompt: "feedback_category", Type: FieldString, Place: InQuery},
				{Name: "use_cache", Aliases: []string{"cache"}, Prompt: "use_cache", Type: FieldBool, Place: InQuery},
			},
		},
		{
			Group:        "case",
			Action:       "move",
			Summary:      "move a case to another suite of the same project",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/cases/:id/move",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"case", "case_id"}, Prompt: "case_id", Type: FieldInt64, Place: InPath, Required: true},
				{Name: "suite_id", Aliases: []string{"suite"}, Prompt: "suite_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Group:        "grader",
			Action:       "health",
			Summary:      "check the grader's backing services",
			Method:       http.MethodGet,
			PathTemplate: "/healthz",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys returns the registry keys in order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates the HTTP request for cmd.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)

	path := cmd.PathTemplate
	query := url.Values{}
	payload := map[string]interface{}{}
	for _, field := range cmd.Fields {
		raw := strings.TrimSpace(params.Get(field.Name))
		if raw == "" {
			if field.Required {
				return RequestSpec{}, fmt.Errorf("missing parameter: %s", field.Name)
			}
			continue
		}
		value, err := parseValue(field, raw)
		if err != nil {
			return RequestSpec{}, err
		}
		switch field.Place {
		case InPath:
			path = strings.ReplaceAll(path, ":"+field.Name, fmt.Sprint(value))
		case InQuery:
			query.Set(field.Name, fmt.Sprint(value))
		default:
			payload[field.Name] = value
		}
	}
	if strings.Contains(path, "/:") {
		return RequestSpec{}, fmt.Errorf("unresolved path parameter in %s", path)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var body []byte
	if len(payload) > 0 {
		if cmd.Method == http.MethodGet {
			return RequestSpec{}, fmt.Errorf("%s takes no body parameters", cmd.Key())
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
		body = data
	}

	return RequestSpec{Method: cmd.Method, Path: path, Body: body}, nil
}
