package assistant

import (
	"fmt"
	"strings"

	"taskmaster/domain"
)

// DefaultPlaceholders are example ids that appear in prompts and schemas.
// A model that copies one back has not picked a real task.
var DefaultPlaceholders = []string{
	exampleIDLiteral,
	exampleTaskID,
	exampleListID,
	exampleMoreIDs,
	"ID_DE_LA_TAREA",
	"<id>",
	"id",
}

// Validator normalizes the model's raw object into a domain.Intent. Only
// whitelisted task fields survive. Every rejection yields domain.NoOp.
type Validator struct {
	placeholders map[string]struct{}
}

// NewValidator creates a Validator that also rejects the extra placeholder
// literals.
func NewValidator(extra ...string) *Validator {
	v := &Validator{placeholders: make(map[string]struct{}, len(DefaultPlaceholders)+len(extra))}
	for _, p := range append(append([]string(nil), DefaultPlaceholders...), extra...) {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			v.placeholders[p] = struct{}{}
		}
	}
	return v
}

// IsPlaceholder reports whether id cannot name a real task.
func (v *Validator) IsPlaceholder(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return true
	}
	_, ok := v.placeholders[id]
	return ok
}

// Validate returns the normalized intent. A missing action or NONE yields
// NoOp with no error; anything unusable yields NoOp and an
// *domain.InvalidIntentError.
func (v *Validator) Validate(raw map[string]any) (domain.Intent, error) {
	fail := func(format string, args ...any) (domain.Intent, error) {
		return domain.NoOp{}, &domain.InvalidIntentError{Reason: fmt.Sprintf(format, args...), Raw: raw}
	}

	rawAction, present := raw["action"]
	if !present || rawAction == nil {
		return domain.NoOp{}, nil
	}
	actionStr, ok := rawAction.(string)
	if !ok {
		return fail("action is not a string")
	}
	action := domain.Action(strings.ToUpper(strings.TrimSpace(actionStr)))

	payload := map[string]any{}
	if p, present := raw["payload"]; present && p != nil {
		m, ok := p.(map[string]any)
		if !ok {
			return fail("payload is not an object")
		}
		payload = m
	}

	switch action {
	case domain.ActionNone, "":
		return domain.NoOp{}, nil

	case domain.ActionCreateTask:
		title, ok := payload["title"].(string)
		if !ok || strings.TrimSpace(title) == "" {
			return fail("CREATE_TASK needs a non-empty title")
		}
		in := domain.CreateTask{Title: strings.TrimSpace(title)}
		if s, ok := payload["priority"].(string); ok {
			if p, ok := domain.ParsePriority(s); ok {
				in.Priority = &p
			}
		}
		if s, ok := payload["dueDate"].(string); ok {
			if d, ok := domain.ParseDueDate(s); ok {
				in.DueDate = &d
			}
		}
		if s, ok := payload["description"].(string); ok && strings.TrimSpace(s) != "" {
			in.Description = &s
		}
		return in, nil

	case domain.ActionUpdateStatus:
		id, ok := v.targetID(payload)
		if !ok {
			return fail("UPDATE_STATUS needs a task id from the list")
		}
		rawStatus := payload["status"]
		if rawStatus == nil {
			if updates, ok := payload["updates"].(map[string]any); ok {
				rawStatus = updates["status"]
			}
		}
		s, _ := rawStatus.(string)
		status, ok := domain.ParseStatus(s)
		if !ok {
			return fail("UPDATE_STATUS has unknown status %q", s)
		}
		return domain.UpdateStatus{ID: id, Status: status}, nil

	case domain.ActionEditTask:
		id, ok := v.targetID(payload)
		if !ok {
			return fail("EDIT_TASK needs a task id from the list")
		}
		patch, err := patchFromPayload(payload)
		if err != nil {
			return fail("EDIT_TASK: %v", err)
		}
		return domain.EditTask{ID: id, Fields: patch}, nil

	case domain.ActionDeleteTask:
		id, ok := v.targetID(payload)
		if !ok {
			return fail("DELETE_TASK needs a task id from the list")
		}
		return domain.DeleteTask{ID: id}, nil

	case domain.ActionBulkUpdate:
		ids := v.bulkIDs(payload)
		if len(ids) == 0 {
			return fail("BULK_UPDATE needs at least one task id from the list")
		}
		patch, err := patchFromPayload(payload)
		if err != nil {
			return fail("BULK_UPDATE: %v", err)
		}
		return domain.BulkUpdate{IDs: ids, Fields: patch}, nil

	default:
		return fail("unknown action %q", actionStr)
	}
}

// targetID reads "id", or "_id" when "id" is absent. A placeholder "id"
// rejects the target even if "_id" is set.
func (v *Validator) targetID(payload map[string]any) (string, bool) {
	key := "id"
	if raw, present := payload["id"]; !present || raw == nil {
		key = "_id"
	}
	s, ok := payload[key].(string)
	if !ok || v.IsPlaceholder(s) {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// bulkIDs collects the distinct real ids from "tasks" (strings or task
// objects) and "ids", preserving their order.
func (v *Validator) bulkIDs(payload map[string]any) []string {
	var ids []string
	seen := map[string]struct{}{}
	add := func(id string) {
		if v.IsPlaceholder(id) {
			return
		}
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, key := range []string{"tasks", "ids"} {
		list, _ := payload[key].([]any)
		for _, item := range list {
			switch it := item.(type) {
			case string:
				add(it)
			case map[string]any:
				if id, ok := v.targetID(it); ok {
					add(id)
				}
			}
		}
	}
	return ids
}

// patchFromPayload builds a patch from payload.updates, or from the payload
// itself when no updates object is given.
func patchFromPayload(payload map[string]any) (domain.TaskPatch, error) {
	src := payload
	if updates, ok := payload["updates"].(map[string]any); ok {
		src = updates
	}
	patch, err := patchFromMap(src)
	if err != nil {
		return domain.TaskPatch{}, err
	}
	if patch.IsEmpty() {
		return domain.TaskPatch{}, fmt.Errorf("no editable fields")
	}
	return patch, nil
}

// patchFromMap copies the recognized task fields. Unknown keys are dropped;
// a recognized key with an unusable value is an error.
func patchFromMap(m map[string]any) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	str := func(key string) (string, bool, error) {
		v, present := m[key]
		if !present || v == nil {
			return "", false, nil
		}
		s, ok := v.(string)
		if !ok {
			return "", false, fmt.Errorf("%s is not a string", key)
		}
		return strings.TrimSpace(s), true, nil
	}

	if s, ok, err := str("title"); err != nil {
		return p, err
	} else if ok {
		if s == "" {
			return p, fmt.Errorf("title is empty")
		}
		p.Title = &s
	}
	if s, ok, err := str("description"); err != nil {
		return p, err
	} else if ok {
		p.Description = &s
	}
	if s, ok, err := str("status"); err != nil {
		return p, err
	} else if ok {
		st, valid := domain.ParseStatus(s)
		if !valid {
			return p, fmt.Errorf("unknown status %q", s)
		}
		p.Status = &st
	}
	if s, ok, err := str("priority"); err != nil {
		return p, err
	} else if ok {
		pr, valid := domain.ParsePriority(s)
		if !valid {
			return p, fmt.Errorf("unknown priority %q", s)
		}
		p.Priority = &pr
	}
	if s, ok, err := str("category"); err != nil {
		return p, err
	} else if ok && s != "" {
		p.Category = &s
	}
	if s, ok, err := str("dueDate"); err != nil {
		return p, err
	} else if ok && s != "" {
		d, valid := domain.ParseDueDate(s)
		if !valid {
			return p, fmt.Errorf("invalid dueDate %q", s)
		}
		p.DueDate = &d
	}
	for _, key := range []string{"coverImage", "imageUrl"} {
		if s, ok, err := str(key); err != nil {
			return p, err
		} else if ok {
			p.CoverImage = &s
			break
		}
	}
	if s, ok, err := str("aiSummary"); err != nil {
		return p, err
	} else if ok {
		p.AISummary = &s
	}
	if raw, present := m["links"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return p, fmt.Errorf("links is not a list")
		}
		links := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return p, fmt.Errorf("links must be strings")
			}
			if s = strings.TrimSpace(s); s != "" {
				links = append(links, s)
			}
		}
		p.Links = &links
	}
	return p, nil
}
