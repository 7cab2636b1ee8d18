package introspect

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Action types the introspection model may propose.
const (
	ActionEditPrompt        = "edit_prompt"
	ActionDeleteRAGDoc      = "delete_rag_doc"
	ActionUpdateRAGPriority = "update_rag_priority"
)

var ErrUnknownAction = errors.New("unknown action type")

// actionLineRe matches one proposal line: ACTION:<type>:<label>:<params>.
var actionLineRe = regexp.MustCompile(`(?m)^ACTION:(\w+):([^:]+):(.+)$`)

// Action is one validated proposal extracted from an introspection answer.
// It is never executed implicitly; the operator confirms it first.
type Action struct {
	Type   string            `json:"type"`
	Label  string            `json:"label"`
	Params map[string]string `json:"params"`
	Raw    string            `json:"raw"`
}

// parseActions extracts well-formed proposals and returns the answer text
// with every ACTION line removed. Malformed lines are dropped silently; the
// model gets no feedback channel anyway.
func parseActions(text string) (string, []Action) {
	matches := actionLineRe.FindAllStringSubmatch(text, -1)

	var actions []Action
	for _, m := range matches {
		action, ok := buildAction(m[1], strings.TrimSpace(m[2]), strings.TrimSpace(m[3]), m[0])
		if !ok {
			continue
		}
		actions = append(actions, action)
	}

	clean := actionLineRe.ReplaceAllString(text, "")
	clean = regexp.MustCompile(`\n{3,}`).ReplaceAllString(clean, "\n\n")
	return strings.TrimSpace(clean), actions
}

func buildAction(actionType, label, rawParams, raw string) (Action, bool) {
	action := Action{
		Type:   actionType,
		Label:  label,
		Params: map[string]string{},
		Raw:    raw,
	}

	switch actionType {
	case ActionEditPrompt:
		// The appended text may itself contain separators, so the whole
		// params segment is one key=value pair.
		key, value, found := strings.Cut(rawParams, "=")
		if !found || key != "append" || strings.TrimSpace(value) == "" {
			return Action{}, false
		}
		action.Params["append"] = strings.TrimSpace(value)

	case ActionDeleteRAGDoc:
		params := splitParams(rawParams)
		if params["doc_id"] == "" {
			return Action{}, false
		}
		action.Params["doc_id"] = params["doc_id"]

	case ActionUpdateRAGPriority:
		params := splitParams(rawParams)
		if params["doc_id"] == "" {
			return Action{}, false
		}
		priority, err := strconv.Atoi(params["priority"])
		if err != nil || priority < 1 || priority > 5 {
			return Action{}, false
		}
		action.Params["doc_id"] = params["doc_id"]
		action.Params["priority"] = strconv.Itoa(priority)

	default:
		return Action{}, false
	}
	return action, true
}

// splitParams accepts comma-separated key=value pairs; "&" works too since
// models produce it despite instructions.
func splitParams(raw string) map[string]string {
	params := map[string]string{}
	for _, pair := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '&' }) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params
}
