package plan

import "genforge/pkg/tools"

// Tool names used to force structured output.
const (
	SubmitPlanTool     = "submit_plan"
	SubmitTaskPlanTool = "submit_task_plan"
)

// PlanToolDefinition describes the planner's submission tool.
func PlanToolDefinition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        SubmitPlanTool,
		Description: "Submit the engineering plan for the requested project",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"name":        {Type: "string", Description: "Short project name"},
				"description": {Type: "string", Description: "One-paragraph description of the app"},
				"techstack":   {Type: "string", Description: "Languages and frameworks, e.g. \"html, css, javascript\""},
				"features": {
					Type:        "array",
					Description: "User-facing features",
					Items:       &tools.Property{Type: "string"},
				},
				"files": {
					Type:        "array",
					Description: "Files the project needs",
					Items: &tools.Property{
						Type: "object",
						Properties: map[string]*tools.Property{
							"path":    {Type: "string", Description: "Path relative to the project root"},
							"purpose": {Type: "string", Description: "What the file is for"},
						},
						Required: []string{"path", "purpose"},
					},
				},
			},
			Required: []string{"name", "description", "techstack", "features", "files"},
		},
	}
}

// TaskPlanToolDefinition describes the architect's submission tool.
func TaskPlanToolDefinition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        SubmitTaskPlanTool,
		Description: "Submit the ordered implementation steps for the plan",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"implementation_steps": {
					Type:        "array",
					Description: "Steps in execution order; later steps may use files from earlier ones",
					Items: &tools.Property{
						Type: "object",
						Properties: map[string]*tools.Property{
							"filepath":         {Type: "string", Description: "File this step creates or modifies"},
							"task_description": {Type: "string", Description: "Detailed instructions for the step"},
						},
						Required: []string{"filepath", "task_description"},
					},
				},
			},
			Required: []string{"implementation_steps"},
		},
	}
}
