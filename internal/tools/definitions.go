package tools

import "github.com/hray3182/topicmate/internal/llm"

const (
	CreateReminder   = "create_reminder"
	ListReminders    = "list_reminders"
	CancelReminder   = "cancel_reminder"
	GetSummary       = "get_summary"
	AppendNote       = "append_note"
	GetContextWindow = "get_context_window"
)

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// Definitions returns the JSON-schema description of every tool.
func Definitions() []llm.ToolDefinition {
	weekdays := []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

	return []llm.ToolDefinition{
		{
			Name:        CreateReminder,
			Description: "Create a one-time or recurring reminder in a topic",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   str("What to remind about"),
					"due":     str(`Due date and time in ISO 8601, e.g. "2025-01-15T10:00:00+01:00". Without an offset the timezone applies`),
					"topicId": str("Topic id the reminder belongs to. Defaults to the current topic"),
					"repeat": map[string]any{
						"type":        "object",
						"description": "Repeat rule for recurring reminders",
						"properties": map[string]any{
							"freq": map[string]any{
								"type":        "string",
								"enum":        []string{"DAILY", "WEEKLY", "MONTHLY", "CRON"},
								"description": "Repeat frequency",
							},
							"interval": map[string]any{"type": "integer", "description": "Interval between occurrences (default 1)"},
							"byDay": map[string]any{
								"type":        "array",
								"items":       map[string]any{"type": "string", "enum": weekdays},
								"description": "Weekdays for weekly repetition",
							},
							"cron":  str("Cron expression"),
							"until": str("Last possible occurrence in ISO 8601"),
							"count": map[string]any{"type": "integer", "description": "Maximum number of occurrences"},
						},
						"required": []string{"freq"},
					},
					"description": str("Optional details"),
					"timezone":    str("IANA timezone, defaults to the topic timezone"),
				},
				"required": []string{"title", "due"},
			},
		},
		{
			Name:        ListReminders,
			Description: "List scheduled reminders of a topic ordered by next run",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topicId": str("Topic id. Defaults to the current topic"),
					"range": map[string]any{
						"type":        "object",
						"description": "Optional bounds on the next run",
						"properties": map[string]any{
							"fromISO": str("Lower bound in ISO 8601"),
							"toISO":   str("Upper bound in ISO 8601"),
						},
					},
				},
			},
		},
		{
			Name:        CancelReminder,
			Description: "Cancel a scheduled reminder",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reminderId": str("Id of the reminder to cancel"),
				},
				"required": []string{"reminderId"},
			},
		},
		{
			Name:        GetSummary,
			Description: "Get the summary of a topic for a day, ISO week, month or year, generating it when missing",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topicId": str("Topic id. Defaults to the current topic"),
					"grain": map[string]any{
						"type":        "string",
						"enum":        []string{"day", "week", "month", "year"},
						"description": "Period length",
					},
					"date": str("A date inside the period, YYYY-MM-DD. Defaults to today"),
				},
				"required": []string{"grain"},
			},
		},
		{
			Name:        AppendNote,
			Description: "Save a note to the topic history",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topicId": str("Topic id. Defaults to the current topic"),
					"text":    str("Note content"),
					"tags": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional tags",
					},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        GetContextWindow,
			Description: "Get recent messages of the topic",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topicId": str("Topic id. Defaults to the current topic"),
					"limit":   map[string]any{"type": "integer", "description": "Number of messages, max 100, default 20"},
				},
			},
		},
	}
}
