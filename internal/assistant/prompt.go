package assistant

import "strings"

const instructions = `You manage the user's to-do list. Reply with a single JSON object and nothing else:

{"say": "<short reply for the user>", "actions": [ ... ]}

Each action is one of:
  {"type": "add_task", "title": "...", "notes": "...", "dueAtIso": "2025-01-31T17:00:00Z", "priority": "LOW|MEDIUM|HIGH", "parentId": 123}
  {"type": "update_task", "id": 123, "title": "...", "notes": "...", "dueAtIso": "...", "priority": "...", "parentId": 45, "orderInParent": 0}
  {"type": "complete_task", "id": 123}
  {"type": "delete_task", "id": 123}

Only include the fields you want to change. Use null to clear notes or a due date, and "parentId": null to move a task to the top level.
Only reference ids that appear in the task state below. Use an empty actions list when nothing should change.

Current task state:
`

// SystemPrompt builds the system instruction from a serialized Snapshot.
func SystemPrompt(snapshotJSON string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString(snapshotJSON)
	return b.String()
}
