package model

// OverallStatus summarises the whole workflow.
type OverallStatus string

// Overall workflow statuses.
const (
	OverallSelecting   OverallStatus = "selecting"
	OverallConfiguring OverallStatus = "configuring"
	OverallComplete    OverallStatus = "complete"
)

// StageStatus is the derived status of a pipeline stage.
type StageStatus string

// Stage statuses.
const (
	StageTodo       StageStatus = "todo"
	StageInProgress StageStatus = "in_progress"
	StagePartial    StageStatus = "partial"
	StageComplete   StageStatus = "complete"
)

// FieldStatus is the derived status of a single field.
type FieldStatus string

// Field statuses.
const (
	FieldTodo       FieldStatus = "todo"
	FieldInProgress FieldStatus = "in_progress"
	FieldCollected  FieldStatus = "collected"
)

// WorkflowView is the presentable snapshot rendered as the pipeline diagram.
type WorkflowView struct {
	SelectedWorkflow *string                `json:"selectedWorkflow"`
	Template         *TemplateSummary       `json:"template"`
	Nodes            map[StageKey]StageView `json:"nodes"`
	OverallStatus    OverallStatus          `json:"overallStatus"`
}

// StageView is one node of the pipeline diagram.
type StageView struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Icon   string      `json:"icon"`
	Status StageStatus `json:"status"`
	Fields []FieldView `json:"fields"`
}

// FieldView is a field schema annotated with its current value and status.
type FieldView struct {
	FieldSchema
	Value  any         `json:"value"`
	Status FieldStatus `json:"status"`
}
