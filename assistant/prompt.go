package assistant

import (
	"strings"
	"time"
)

// Example values the prompt shows in place of real task ids. The validator
// treats each of them as a placeholder.
const (
	exampleIDLiteral = "TASK_ID"
	exampleTaskID    = "task id from the list"
	exampleListID    = "task id"
	exampleMoreIDs   = "..."
)

const promptInstructions = `You are the assistant of a personal task board. You read the user's message and decide which single change, if any, to make to the board. Answer in the user's language.

Rules:
- Reply with exactly one JSON object and nothing else.
- Only use task ids that appear in the task list below. Never invent an id and never copy an example value such as ` + exampleIDLiteral + `.
- New tasks always start as pending. Resolve relative dates such as "tomorrow" or "next Friday" against today's date and write them as YYYY-MM-DD.
- Use BULK_UPDATE only for an explicit set of listed tasks; put their ids in "tasks".
- If the message is a question or you are unsure, use action NONE and answer in "text".`

const promptShape = `{
  "text": "short reply to the user",
  "action": "CREATE_TASK" | "UPDATE_STATUS" | "EDIT_TASK" | "DELETE_TASK" | "BULK_UPDATE" | "NONE",
  "payload": {
    "id": "` + exampleTaskID + `",
    "status": "pending" | "in-progress" | "completed",
    "title": "task title",
    "priority": "low" | "medium" | "high",
    "dueDate": "YYYY-MM-DD",
    "description": "task description",
    "tasks": ["` + exampleListID + `", "` + exampleMoreIDs + `"],
    "updates": { "field": "new value" }
  }
}`

// systemPrompt assembles the instruction block sent alongside the utterance.
func systemPrompt(taskContext string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(promptInstructions)
	sb.WriteString("\n\nResponse shape:\n")
	sb.WriteString(promptShape)
	sb.WriteString("\n\nToday is ")
	sb.WriteString(now.Format("2006-01-02"))
	sb.WriteString(" (")
	sb.WriteString(now.Weekday().String())
	sb.WriteString(").\n\nCurrent tasks:\n")
	sb.WriteString(taskContext)
	return sb.String()
}
