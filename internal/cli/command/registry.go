package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const fileMarker = "_file_"

var (
	nameField = Field{Name: "name", Prompt: "name", Type: FieldString, Required: true}
	tagField  = Field{Name: "tag", Prompt: "tag", Type: FieldString, InQuery: true}
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "algo",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/algorithms",
			Summary:      "register and build a submission",
			Fields: []Field{
				nameField,
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language (cpp|cs|fp)", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldFile, Required: true},
				{Name: "description", Aliases: []string{"desc"}, Prompt: "description", Type: FieldString},
				{Name: "build_options", Aliases: []string{"flags"}, Prompt: "build_options", Type: FieldString},
				{Name: "price", Prompt: "price", Type: FieldInt64},
				{Name: "tags", Prompt: "tags (comma-separated)", Type: FieldStringList},
				{Name: "run_options", Prompt: "run_options", Type: FieldString},
				{Name: "input", Prompt: "input", Type: FieldFile},
			},
		},
		{
			Service:      "algo",
			Action:       "update",
			Method:       "PUT",
			PathTemplate: "/api/v1/algorithms/:name",
			Summary:      "change fields and rebuild",
			Fields: []Field{
				nameField,
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString},
				{Name: "source_code", Prompt: "source_code", Type: FieldFile},
				{Name: "description", Aliases: []string{"desc"}, Prompt: "description", Type: FieldString},
				{Name: "build_options", Aliases: []string{"flags"}, Prompt: "build_options", Type: FieldString},
				{Name: "price", Prompt: "price", Type: FieldInt64},
				{Name: "tags", Prompt: "tags (comma-separated)", Type: FieldStringList},
				{Name: "run_options", Prompt: "run_options", Type: FieldString},
				{Name: "input", Prompt: "input", Type: FieldFile},
			},
		},
		{
			Service:      "algo",
			Action:       "remove",
			Method:       "DELETE",
			PathTemplate: "/api/v1/algorithms/:name",
			Summary:      "delete a submission",
			Fields:       []Field{nameField},
		},
		{
			Service:      "algo",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/algorithms/:name/run",
			Summary:      "run the built artifact",
			Fields:       []Field{nameField},
		},
		{
			Service:      "algo",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/algorithms/:name",
			Summary:      "show one submission",
			Fields:       []Field{nameField},
		},
		{
			Service:      "algo",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/algorithms/:name/status",
			Summary:      "show the build status",
			Fields:       []Field{nameField},
		},
		{
			Service:      "algo",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/algorithms",
			Summary:      "list submissions",
			Fields:       []Field{tagField},
		},
		{
			Service:      "algo",
			Action:       "names",
			Method:       "GET",
			PathTemplate: "/api/v1/algorithms/names",
			Summary:      "list submission names",
			Fields:       []Field{tagField},
		},
		{
			Service:      "algo",
			Action:       "search",
			Method:       "GET",
			PathTemplate: "/api/v1/algorithms/search",
			Summary:      "find the one submission matching a word",
			Fields: []Field{
				{Name: "q", Aliases: []string{"word"}, Prompt: "word", Type: FieldString, Required: true, InQuery: true},
			},
		},
		{
			Service:      "algo",
			Action:       "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/algorithms/languages",
			Summary:      "list supported languages",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys returns the registry keys in a stable order for help and completion.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for k := range commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if query := buildQuery(cmd, params); query != "" {
		path += "?" + query
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"name"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildQuery(cmd Command, params Params) string {
	values := url.Values{}
	for _, field := range cmd.Fields {
		if field.InQuery && params.Get(field.Name) != "" {
			values.Set(field.Name, params.Get(field.Name))
		}
	}
	return values.Encode()
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service != "algo" {
		return nil, nil
	}
	switch cmd.Action {
	case "create":
		return buildCreatePayload(params)
	case "update":
		return buildUpdatePayload(params)
	}
	return nil, nil
}

func buildCreatePayload(params Params) (interface{}, error) {
	source, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("source_code is required")
	}
	payload := map[string]interface{}{
		"name":        params.Get("name"),
		"language":    params.Get("language"),
		"source_code": source,
	}
	if err := addOptional(payload, params); err != nil {
		return nil, err
	}
	return payload, nil
}

// buildUpdatePayload only carries the fields the user typed, absent ones are kept by the server.
func buildUpdatePayload(params Params) (interface{}, error) {
	payload := map[string]interface{}{}
	if params.Get("language") != "" {
		payload["language"] = params.Get("language")
	}
	source, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	if source != "" {
		payload["source_code"] = source
	}
	if err := addOptional(payload, params); err != nil {
		return nil, err
	}
	return payload, nil
}

func addOptional(payload map[string]interface{}, params Params) error {
	for _, key := range []string{"description", "build_options"} {
		if params.Has(key) {
			payload[key] = params.Get(key)
		}
	}
	if params.Get("price") != "" {
		price, err := ParseInt64(params.Get("price"))
		if err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
		payload["price"] = price
	}
	if params.Has("tags") {
		payload["tags"] = ParseStringList(params.Get("tags"))
	}
	input, err := valueOrFile(params, "input", "input_file")
	if err != nil {
		return err
	}
	if params.Has("run_options") || input != "" {
		payload["test_data"] = map[string]string{
			"run_options": params.Get("run_options"),
			"input":       input,
		}
	}
	return nil
}

// valueOrFile returns params[key], or the content of params[fileKey] when key is unset.
func valueOrFile(params Params, key, fileKey string) (string, error) {
	value := params.Get(key)
	if (value == "" || value == fileMarker) && params.Get(fileKey) != "" {
		return ReadFile(params.Get(fileKey))
	}
	if value == fileMarker {
		return "", nil
	}
	return value, nil
}
