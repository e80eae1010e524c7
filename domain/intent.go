package domain

// Action is the tag the model uses to name an intent.
type Action string

const (
	ActionCreateTask   Action = "CREATE_TASK"
	ActionUpdateStatus Action = "UPDATE_STATUS"
	ActionEditTask     Action = "EDIT_TASK"
	ActionDeleteTask   Action = "DELETE_TASK"
	ActionBulkUpdate   Action = "BULK_UPDATE"
	ActionNone         Action = "NONE"
)

// Intent is the validated form of what an utterance should do to the board.
// The set of implementations is closed; see the types below.
type Intent interface {
	Action() Action
	intent()
}

// CreateTask adds a new card. Status is always pending.
type CreateTask struct {
	Title       string
	Priority    *Priority
	DueDate     *string
	Description *string
}

// UpdateStatus moves one card to another column.
type UpdateStatus struct {
	ID     string
	Status Status
}

// EditTask merges Fields into one card.
type EditTask struct {
	ID     string
	Fields TaskPatch
}

// DeleteTask removes one card.
type DeleteTask struct {
	ID string
}

// BulkUpdate merges Fields into every card in IDs. IDs is never empty and
// holds no duplicates.
type BulkUpdate struct {
	IDs    []string
	Fields TaskPatch
}

// NoOp has no board effect; the reply is chat only.
type NoOp struct{}

func (CreateTask) Action() Action   { return ActionCreateTask }
func (UpdateStatus) Action() Action { return ActionUpdateStatus }
func (EditTask) Action() Action     { return ActionEditTask }
func (DeleteTask) Action() Action   { return ActionDeleteTask }
func (BulkUpdate) Action() Action   { return ActionBulkUpdate }
func (NoOp) Action() Action         { return ActionNone }

func (CreateTask) intent()   {}
func (UpdateStatus) intent() {}
func (EditTask) intent()     {}
func (DeleteTask) intent()   {}
func (BulkUpdate) intent()   {}
func (NoOp) intent()         {}

// TargetIDs returns the task ids an intent mutates. CreateTask and NoOp have
// none before dispatch.
func TargetIDs(in Intent) []string {
	switch v := in.(type) {
	case UpdateStatus:
		return []string{v.ID}
	case EditTask:
		return []string{v.ID}
	case DeleteTask:
		return []string{v.ID}
	case BulkUpdate:
		return append([]string(nil), v.IDs...)
	}
	return nil
}
