package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the shape of a tool payload.
type Kind string

const (
	// KindText is a plain text payload (scraped article, file content).
	KindText Kind = "text"
	// KindItems is a list of titled results (search hits, issues, commits).
	KindItems Kind = "items"
	// KindObject is an arbitrary JSON object (repo metadata, API responses).
	KindObject Kind = "object"
)

// Item is a single titled result within a KindItems payload.
type Item struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

// Payload is the tagged union of everything a tool backend can return.
// Exactly one of Text, Items or Object is meaningful, selected by Kind.
type Payload struct {
	Kind   Kind                   `json:"kind"`
	Text   string                 `json:"text,omitempty"`
	Items  []Item                 `json:"items,omitempty"`
	Object map[string]interface{} `json:"object,omitempty"`
}

// TextPayload wraps a string as a payload.
func TextPayload(text string) Payload {
	return Payload{Kind: KindText, Text: text}
}

// ItemsPayload wraps a result list as a payload.
func ItemsPayload(items []Item) Payload {
	return Payload{Kind: KindItems, Items: items}
}

// ObjectPayload wraps a generic JSON object as a payload.
func ObjectPayload(obj map[string]interface{}) Payload {
	return Payload{Kind: KindObject, Object: obj}
}

// ExtractText normalizes a payload into a single textual representation for
// synthesis. Search-style item lists join as "title: snippet" per item
// separated by blank lines; objects serialize as JSON.
func (p Payload) ExtractText() string {
	switch p.Kind {
	case KindText:
		return p.Text
	case KindItems:
		parts := make([]string, 0, len(p.Items))
		for _, it := range p.Items {
			if it.Title == "" && it.Snippet == "" {
				continue
			}
			if it.Title == "" {
				parts = append(parts, it.Snippet)
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", it.Title, it.Snippet))
		}
		return strings.Join(parts, "\n\n")
	case KindObject:
		b, err := json.Marshal(p.Object)
		if err != nil {
			return fmt.Sprintf("%v", p.Object)
		}
		return string(b)
	default:
		return ""
	}
}

// Invocation is the outcome of a single tool call. Tool-level failures are
// reported here, never as panics; only unrecoverable configuration errors
// surface as Go errors from the invoker.
type Invocation struct {
	Success bool    `json:"success"`
	Payload Payload `json:"payload"`
	Error   string  `json:"error,omitempty"`
}

// Failure builds a failed invocation with the given error message.
func Failure(msg string) Invocation {
	return Invocation{Success: false, Error: msg}
}

// OK builds a successful invocation around a payload.
func OK(p Payload) Invocation {
	return Invocation{Success: true, Payload: p}
}
