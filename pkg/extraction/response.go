package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/papercomputeco/recall/pkg/graph"
)

// ErrUnexpectedShape is returned by Normalize when a response carries no
// fact array in any known envelope.
var ErrUnexpectedShape = errors.New("unexpected extraction response shape")

// ResponseKind tags the envelope an LLM response arrived in.
type ResponseKind int

const (
	KindUnknown ResponseKind = iota

	// KindRawArray is a bare JSON array of facts.
	KindRawArray

	// KindWrappedResult is {"result": [...]} or {"json": [...]}.
	KindWrappedResult

	// KindWrappedDetails is {"details": {"json": [...]}} or
	// {"details": {"text": "..."}}.
	KindWrappedDetails

	// KindText is a string that still has to be parsed, possibly fenced.
	KindText
)

func (k ResponseKind) String() string {
	switch k {
	case KindRawArray:
		return "raw_array"
	case KindWrappedResult:
		return "wrapped_result"
	case KindWrappedDetails:
		return "wrapped_details"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Response is a decoded LLM reply. Items holds the array elements when the
// envelope carried one; Text holds the string otherwise.
type Response struct {
	Kind  ResponseKind
	Items []json.RawMessage
	Text  string
}

// DecodeResponse classifies a raw reply. Input that is not JSON at all is
// treated as text.
func DecodeResponse(data []byte) Response {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Response{Kind: KindUnknown}
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return Response{Kind: KindRawArray, Items: items}
		}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Response{Kind: KindText, Text: s}
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			return decodeEnvelope(obj)
		}
	}

	return Response{Kind: KindText, Text: string(trimmed)}
}

func decodeEnvelope(obj map[string]json.RawMessage) Response {
	if items, ok := asArray(obj["result"]); ok {
		return Response{Kind: KindWrappedResult, Items: items}
	}

	if raw, ok := obj["details"]; ok {
		var details map[string]json.RawMessage
		if err := json.Unmarshal(raw, &details); err == nil {
			if items, ok := asArray(details["json"]); ok {
				return Response{Kind: KindWrappedDetails, Items: items}
			}
			if text, ok := asString(details["text"]); ok {
				return Response{Kind: KindWrappedDetails, Text: text}
			}
		}
	}

	if items, ok := asArray(obj["json"]); ok {
		return Response{Kind: KindWrappedResult, Items: items}
	}

	if text, ok := asString(obj["text"]); ok {
		return Response{Kind: KindText, Text: text}
	}

	return Response{Kind: KindUnknown}
}

func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

var fencePattern = regexp.MustCompile("(?is)^```(?:json)?\\s*(.*?)\\s*```$")

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// parseText pulls a fact array out of free text. A bare array is preferred;
// failing that, the outermost [...] span is tried.
func parseText(text string) ([]json.RawMessage, bool) {
	text = stripFences(text)

	if items, ok := asArray(json.RawMessage(text)); ok {
		return items, true
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return asArray(json.RawMessage(text[start : end+1]))
	}

	return nil, false
}

// Normalize turns any supported response into validated candidate facts.
// Entries without string subject, relation and object, or with an empty
// subject or object, are dropped.
func Normalize(r Response) ([]graph.CandidateFact, error) {
	items := r.Items
	if items == nil {
		switch r.Kind {
		case KindText, KindWrappedDetails:
			parsed, ok := parseText(r.Text)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnexpectedShape, graph.Truncate(r.Text, 300))
			}
			items = parsed
		case KindRawArray, KindWrappedResult:
			items = []json.RawMessage{}
		default:
			return nil, ErrUnexpectedShape
		}
	}

	facts := make([]graph.CandidateFact, 0, len(items))
	for _, item := range items {
		if f, ok := validate(item); ok {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

type rawFact struct {
	Subject     any `json:"subject"`
	SubjectType any `json:"subject_type"`
	Relation    any `json:"relation"`
	Object      any `json:"object"`
	ObjectType  any `json:"object_type"`
	Confidence  any `json:"confidence"`
}

func validate(item json.RawMessage) (graph.CandidateFact, bool) {
	var raw rawFact
	if err := json.Unmarshal(item, &raw); err != nil {
		return graph.CandidateFact{}, false
	}

	subject, ok1 := raw.Subject.(string)
	relation, ok2 := raw.Relation.(string)
	object, ok3 := raw.Object.(string)
	if !ok1 || !ok2 || !ok3 {
		return graph.CandidateFact{}, false
	}

	subject = strings.TrimSpace(subject)
	object = strings.TrimSpace(object)
	if subject == "" || object == "" {
		return graph.CandidateFact{}, false
	}

	subjectType, _ := raw.SubjectType.(string)
	objectType, _ := raw.ObjectType.(string)

	// A missing or non-numeric confidence counts as zero.
	confidence, _ := raw.Confidence.(float64)
	confidence = min(max(confidence, 0), 1)

	return graph.CandidateFact{
		Subject:     subject,
		SubjectType: subjectType,
		Relation:    strings.TrimSpace(relation),
		Object:      object,
		ObjectType:  objectType,
		Confidence:  confidence,
	}, true
}
