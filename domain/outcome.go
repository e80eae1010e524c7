package domain

// Outcome is the result of dispatching one Intent against the task store.
// Affected lists the ids the store accepted; Failed the ones it rejected.
type Outcome struct {
	Success  bool
	Affected []string
	Failed   []string
	Created  *Task
	Err      error
}
