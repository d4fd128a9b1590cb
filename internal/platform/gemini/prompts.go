package gemini

import (
	"fmt"
	"strings"

	"github.com/taskforge/pipeline-api/internal/domain"
)

// Prompts ask for a bare JSON object so the result can be stored as the
// stage blob without post-processing. Later stages feed the persisted
// results of earlier ones back into the prompt.

func analyzePrompt(task *domain.Task) string {
	var b strings.Builder
	b.WriteString("You are a senior engineer reviewing a development task.\n")
	b.WriteString("Analyze the task below and respond with a single JSON object with keys ")
	b.WriteString(`"summary", "complexity" (one of "low", "medium", "high"), `)
	b.WriteString(`"requirements" (array of strings) and "risks" (array of strings).`)
	b.WriteString("\n\n")
	writeTask(&b, task)
	return b.String()
}

func planPrompt(task *domain.Task) string {
	var b strings.Builder
	b.WriteString("You are a senior engineer planning a development task.\n")
	b.WriteString("Using the task and its analysis below, respond with a single JSON object ")
	b.WriteString(`with keys "approach" (string) and "steps" (array of objects with "title" and "details").`)
	b.WriteString("\n\n")
	writeTask(&b, task)
	if analysis, ok := task.StageResult(domain.StageAnalyze); ok {
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n", analysis)
	}
	return b.String()
}

func decomposePrompt(task *domain.Task) string {
	var b strings.Builder
	b.WriteString("You are a senior engineer breaking a planned task into subtasks.\n")
	b.WriteString("Using the task and its plan below, respond with a single JSON object with key ")
	b.WriteString(`"subtasks": an array of objects with "title", "description" and "estimate_hours".`)
	b.WriteString("\n\n")
	writeTask(&b, task)
	if plan, ok := task.StageResult(domain.StagePlan); ok {
		fmt.Fprintf(&b, "\nPlan:\n%s\n", plan)
	}
	return b.String()
}

func writeTask(b *strings.Builder, task *domain.Task) {
	fmt.Fprintf(b, "Task #%d: %s\n", task.ID, task.Title)
	if task.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", task.Description)
	}
}
