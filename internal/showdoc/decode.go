package showdoc

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// DecodePageContent undoes the HTML-entity escaping ShowDoc applies to
// page_content and parses the result as a JSON object.
func DecodePageContent(encoded string) (map[string]any, error) {
	decoded := strings.TrimSpace(html.UnescapeString(encoded))
	if decoded == "" {
		return nil, &ParseError{What: "page content", Err: fmt.Errorf("empty content")}
	}
	var content map[string]any
	if err := json.Unmarshal([]byte(decoded), &content); err != nil {
		return nil, &ParseError{What: "page content", Err: err}
	}
	return content, nil
}

// ParseAPIDefinition builds an ApiDefinition from decoded page content.
// Content whose info block lacks a method or url is a documentation page:
// the result is nil with no error. Fields of the wrong JSON type are a
// *ParseError.
func ParseAPIDefinition(content map[string]any) (*ApiDefinition, error) {
	if content == nil {
		return nil, nil
	}
	rawInfo, ok := content["info"]
	if !ok || rawInfo == nil {
		return nil, nil
	}
	info, ok := rawInfo.(map[string]any)
	if !ok {
		return nil, &ParseError{What: "api info", Err: fmt.Errorf("info is %T, want object", rawInfo)}
	}

	method, err := optionalString(info, "method")
	if err != nil {
		return nil, err
	}
	url, err := optionalString(info, "url")
	if err != nil {
		return nil, err
	}
	method, url = strings.TrimSpace(method), strings.TrimSpace(url)
	if method == "" || url == "" {
		return nil, nil
	}

	title, err := optionalString(info, "title")
	if err != nil {
		return nil, err
	}
	description, err := optionalString(info, "description")
	if err != nil {
		return nil, err
	}
	request, err := optionalObject(content, "request")
	if err != nil {
		return nil, err
	}
	response, err := optionalObject(content, "response")
	if err != nil {
		return nil, err
	}

	return &ApiDefinition{
		Method:      strings.ToUpper(method),
		URL:         url,
		Title:       title,
		Description: description,
		Request:     request,
		Response:    response,
	}, nil
}

func optionalString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParseError{What: "api info", Err: fmt.Errorf("%s is %T, want string", key, v)}
	}
	return s, nil
}

func optionalObject(m map[string]any, key string) (map[string]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{What: "api " + key, Err: fmt.Errorf("%s is %T, want object", key, v)}
	}
	return obj, nil
}
