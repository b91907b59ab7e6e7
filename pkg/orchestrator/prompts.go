package orchestrator

import (
	"fmt"
	"strings"

	"genforge/pkg/plan"
)

// PlannerPrompt asks for a complete engineering plan for the user's request.
func PlannerPrompt(userPrompt string) string {
	return fmt.Sprintf(`You are the PLANNER agent. Convert the user prompt into a COMPLETE engineering project plan.

Describe the app, pick a simple tech stack that fits the request, list the user-facing
features, and list every file the project needs with its purpose. Prefer plain files
that run without a build step unless the user asks otherwise.

Submit the plan by calling the %s tool.

User request:
%s`, plan.SubmitPlanTool, userPrompt)
}

// ArchitectPrompt asks for ordered, file-scoped implementation steps for planJSON.
func ArchitectPrompt(planJSON string) string {
	return fmt.Sprintf(`You are the ARCHITECT agent. Given this project plan, break it down into explicit engineering tasks.

RULES:
- For each file in the plan, create one or more implementation steps.
- In each task description:
  * Specify exactly what to implement.
  * Name the variables, functions, classes and components to be defined.
  * Mention how this task depends on or will be used by previous tasks.
  * Include integration details: imports, expected function signatures, data flow.
- Order steps so that dependencies are implemented first.
- Each step must be SELF-CONTAINED but also carry FORWARD the relevant context from earlier tasks.

Submit the steps by calling the %s tool.

Project plan:
%s`, plan.SubmitTaskPlanTool, planJSON)
}

// CoderSystemPrompt frames the per-step tool loop and lists the tools it may call.
func CoderSystemPrompt(toolDocs string) string {
	return coderSystemPrompt + "\n\n" + toolDocs
}

const coderSystemPrompt = `You are the CODER agent.
You are implementing a specific engineering task.
You have access to tools to read and write files.

Always:
- Review all existing files to maintain compatibility.
- Implement the FULL file content, integrating with other modules.
- Maintain consistent naming of variables, functions, and imports.
- When a module is imported from another file, ensure it exists and is implemented as described.
- All paths are relative to the project root. Never write outside it.`

// CoderTaskPrompt combines one step with the target file's current content.
func CoderTaskPrompt(step plan.ImplementationStep, existing string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", step.TaskDescription)
	fmt.Fprintf(&b, "File: %s\n", step.FilePath)
	fmt.Fprintf(&b, "Existing content:\n%s\n\n", existing)
	b.WriteString("IMPORTANT: Use write_file(path, content) to save your changes. ")
	b.WriteString("Once you've written the file, your task is complete. Do not loop or retry.")
	return b.String()
}
