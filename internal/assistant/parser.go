package assistant

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")

type rawObject = map[string]json.RawMessage

// decodeStrategy tries to read an envelope out of a decoded JSON object.
type decodeStrategy struct {
	name   string
	decode func(p Parser, obj rawObject) (Envelope, bool)
}

// strategies run in order, newest wire format first.
var strategies = []decodeStrategy{
	{name: "envelope", decode: decodeEnvelope},
	{name: "action list", decode: decodeActionList},
	{name: "single action", decode: decodeSingleAction},
}

type Parser struct {
	Logger *log.Logger
}

// ParseEnvelope parses model output with the standard logger.
func ParseEnvelope(text string) Envelope {
	return Parser{Logger: log.StandardLogger()}.Parse(text)
}

// Parse never fails: text that holds no usable JSON becomes the reply.
func (p Parser) Parse(text string) Envelope {
	if p.Logger == nil {
		p.Logger = log.StandardLogger()
	}
	fallback := Envelope{Say: &text}

	candidate, ok := extractJSON(text)
	if !ok {
		return fallback
	}

	var obj rawObject
	if err := sonic.UnmarshalString(candidate, &obj); err != nil || obj == nil {
		p.Logger.WithError(err).Debug("assistant reply is not a JSON object")
		return fallback
	}

	for _, strategy := range strategies {
		envelope, ok := strategy.decode(p, obj)
		if !ok {
			continue
		}
		if envelope.Say == nil && len(envelope.Actions) == 0 {
			break
		}
		p.Logger.WithFields(log.Fields{"format": strategy.name, "actions": len(envelope.Actions)}).Debug("decoded assistant envelope")
		return envelope
	}
	return fallback
}

// extractJSON prefers a fenced code block and falls back to the span from
// the first '{' to the last '}'.
func extractJSON(text string) (string, bool) {
	for _, match := range fencedBlock.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(match[1])
		if strings.Contains(body, "{") {
			if inner, ok := braceSpan(body); ok {
				return inner, true
			}
		}
	}
	return braceSpan(text)
}

func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func decodeEnvelope(p Parser, obj rawObject) (Envelope, bool) {
	raw, ok := obj["say"]
	if !ok {
		return Envelope{}, false
	}
	say, err := optionalString(raw)
	if err != nil {
		return Envelope{}, false
	}

	envelope := Envelope{}
	if value, ok := say.Get(); ok {
		envelope.Say = &value
	}
	if rawActions, ok := obj["actions"]; ok && !isNull(rawActions) {
		actions, ok := p.mapActionArray(rawActions)
		if !ok {
			return Envelope{}, false
		}
		envelope.Actions = actions
	}
	return envelope, true
}

func decodeActionList(p Parser, obj rawObject) (Envelope, bool) {
	raw, ok := obj["actions"]
	if !ok {
		return Envelope{}, false
	}
	actions, ok := p.mapActionArray(raw)
	if !ok {
		return Envelope{}, false
	}
	return Envelope{Actions: actions}, true
}

func decodeSingleAction(p Parser, obj rawObject) (Envelope, bool) {
	if _, ok := lookup(obj, typeKeys...); !ok {
		return Envelope{}, false
	}
	action, ok := p.mapAction(obj)
	if !ok {
		return Envelope{}, false
	}
	return Envelope{Actions: []Action{action}}, true
}

func (p Parser) mapActionArray(raw json.RawMessage) ([]Action, bool) {
	var entries []json.RawMessage
	if err := sonic.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	actions := make([]Action, 0, len(entries))
	for index, entry := range entries {
		var obj rawObject
		if err := sonic.Unmarshal(entry, &obj); err != nil || obj == nil {
			p.Logger.WithField("index", index).Warn("dropping assistant action that is not an object")
			continue
		}
		if action, ok := p.mapAction(obj); ok {
			actions = append(actions, action)
		}
	}
	return actions, true
}

// mapAction turns one raw entry into an Action, logging and dropping
// entries that lack required fields or carry an unknown type.
func (p Parser) mapAction(obj rawObject) (Action, bool) {
	rawKind, _ := lookup(obj, typeKeys...)
	kind, err := requiredString(rawKind)
	if err != nil {
		p.Logger.WithError(err).Warn("dropping assistant action without type")
		return nil, false
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	logger := p.Logger.WithField("type", kind)

	action, err := buildAction(kind, obj)
	if err != nil {
		logger.WithError(err).Warn("dropping assistant action")
		return nil, false
	}
	return action, true
}

func buildAction(kind string, obj rawObject) (Action, error) {
	switch kind {
	case KindAddTask:
		title, err := requiredString(obj["title"])
		if err != nil {
			return nil, fmt.Errorf("title: %w", err)
		}
		if strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("title is empty")
		}
		action := AddTask{Title: strings.TrimSpace(title)}
		if action.Notes, err = stringField(obj, "notes", "content"); err != nil {
			return nil, err
		}
		if action.DueAtISO, err = stringField(obj, "dueAtIso", "dueAt", "due_at"); err != nil {
			return nil, err
		}
		if action.Priority, err = stringField(obj, "priority"); err != nil {
			return nil, err
		}
		if action.ParentID, err = intField[int64](obj, "parentId", "parent_id"); err != nil {
			return nil, err
		}
		return action, nil

	case KindDeleteTask, KindCompleteTask:
		id, err := requiredID(obj)
		if err != nil {
			return nil, err
		}
		if kind == KindDeleteTask {
			return DeleteTask{ID: id}, nil
		}
		return CompleteTask{ID: id}, nil

	case KindUpdateTask:
		id, err := requiredID(obj)
		if err != nil {
			return nil, err
		}
		action := UpdateTask{ID: id}
		if action.Title, err = stringField(obj, "title"); err != nil {
			return nil, err
		}
		if action.Notes, err = stringField(obj, "notes", "content"); err != nil {
			return nil, err
		}
		if action.DueAtISO, err = stringField(obj, "dueAtIso", "dueAt", "due_at"); err != nil {
			return nil, err
		}
		if action.Priority, err = stringField(obj, "priority"); err != nil {
			return nil, err
		}
		if action.ParentID, err = intField[int64](obj, "parentId", "parent_id"); err != nil {
			return nil, err
		}
		if action.OrderInParent, err = intField[int](obj, "orderInParent", "order_in_parent"); err != nil {
			return nil, err
		}
		return action, nil
	}
	return nil, fmt.Errorf("unknown action type %q", kind)
}

var (
	typeKeys = []string{"type", "action"}
	idKeys   = []string{"id", "taskId", "task_id"}
)

func lookup(obj rawObject, keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		if raw, ok := obj[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func requiredString(raw json.RawMessage) (string, error) {
	if raw == nil || isNull(raw) {
		return "", fmt.Errorf("missing value")
	}
	var value string
	if err := sonic.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("expected string: %w", err)
	}
	return value, nil
}

func optionalString(raw json.RawMessage) (Field[string], error) {
	if isNull(raw) {
		return Null[string](), nil
	}
	value, err := requiredString(raw)
	if err != nil {
		return Field[string]{}, err
	}
	return Some(value), nil
}

func stringField(obj rawObject, keys ...string) (Field[string], error) {
	raw, ok := lookup(obj, keys...)
	if !ok {
		return Field[string]{}, nil
	}
	field, err := optionalString(raw)
	if err != nil {
		return Field[string]{}, fmt.Errorf("%s: %w", keys[0], err)
	}
	return field, nil
}

func intField[T int | int64](obj rawObject, keys ...string) (Field[T], error) {
	raw, ok := lookup(obj, keys...)
	if !ok {
		return Field[T]{}, nil
	}
	if isNull(raw) {
		return Null[T](), nil
	}
	value, err := parseInteger(raw)
	if err != nil {
		return Field[T]{}, fmt.Errorf("%s: %w", keys[0], err)
	}
	return Some(T(value)), nil
}

func requiredID(obj rawObject) (int64, error) {
	raw, ok := lookup(obj, idKeys...)
	if !ok || isNull(raw) {
		return 0, fmt.Errorf("id is required")
	}
	return parseInteger(raw)
}

// parseInteger accepts JSON numbers and numeric strings.
func parseInteger(raw json.RawMessage) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		if err := sonic.UnmarshalString(text, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
	}
	if value, err := strconv.ParseInt(text, 10, 64); err == nil {
		return value, nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value != float64(int64(value)) {
		return 0, fmt.Errorf("expected integer, got %s", string(raw))
	}
	return int64(value), nil
}
