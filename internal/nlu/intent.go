// Package nlu turns free-form speech and text into structured intents using
// a language model, and phrases the bot's conversational replies.
package nlu

import (
	"github.com/p-blackswan/ideabot/internal/project"
)

// Action names one of the mutually exclusive things a message can ask for.
type Action string

const (
	ActionCreateProject     Action = "create_project"
	ActionClarifyIntent     Action = "clarify_intent"
	ActionUpdateStatus      Action = "update_status"
	ActionUpdateProject     Action = "update_project" // legacy exact-name status change
	ActionAddNotes          Action = "add_notes"
	ActionUpdateProjectInfo Action = "update_project_info"
	ActionArchiveProject    Action = "archive_project"
	ActionQueryProjects     Action = "query_projects"
	ActionGeneralChat       Action = "general_chat"
	ActionUnknown           Action = "unknown"
)

// Intent is the decoded output of intent extraction. The concrete types in
// this file are the only implementations.
type Intent interface {
	Action() Action
	Metadata() Meta
}

// Meta is carried by every intent.
type Meta struct {
	Confidence float64
	// Message is the user's original message as echoed by the model.
	Message string
}

// Metadata returns m. Promoted into every intent.
func (m Meta) Metadata() Meta { return m }

// ProjectData describes a project the user is talking about.
type ProjectData struct {
	Name   string
	Type   project.Type
	Status project.Status
	Notes  string
	Tags   []string
}

// IsEmpty reports whether no field was extracted.
func (d ProjectData) IsEmpty() bool {
	return d.Name == "" && d.Type == "" && d.Status == "" && d.Notes == "" && len(d.Tags) == 0
}

// CreateProject asks for a new project.
type CreateProject struct {
	Meta
	Data ProjectData
}

// ClarifyIntent is used when the model cannot tell whether the user means a
// new project or an existing one.
type ClarifyIntent struct {
	Meta
	SearchKeywords  string
	Data            ProjectData
	AdditionalNotes string
	NoteType        string
}

// UpdateStatus moves a project, found by keywords, to a new status.
type UpdateStatus struct {
	Meta
	Identifier string
	NewStatus  project.Status
	Reason     string
}

// UpdateProject is the older form of UpdateStatus that addresses the project
// by its exact name.
type UpdateProject struct {
	Meta
	ProjectName string
	NewStatus   project.Status
}

// AddNotes appends notes to a project.
type AddNotes struct {
	Meta
	Identifier string
	Notes      string
	NoteType   string
}

// Updates lists metadata changes. Nil fields are left alone.
type Updates struct {
	Name *string
	Type *project.Type
	Tags []string
}

// IsEmpty reports whether no change was requested.
func (u Updates) IsEmpty() bool {
	return u.Name == nil && u.Type == nil && u.Tags == nil
}

// UpdateProjectInfo renames, retypes or retags a project.
type UpdateProjectInfo struct {
	Meta
	Identifier string
	Updates    Updates
}

// ArchiveProject soft-deletes a project.
type ArchiveProject struct {
	Meta
	Identifier string
	Reason     string
}

// QueryType selects how QueryProjects filters.
type QueryType string

const (
	QueryAll      QueryType = "all"
	QueryByStatus QueryType = "by_status"
	QueryByType   QueryType = "by_type"
)

// QueryProjects lists projects.
type QueryProjects struct {
	Meta
	QueryType QueryType
	Filter    project.Filter
}

// GeneralChat is conversation with no store effect.
type GeneralChat struct {
	Meta
}

// Unknown carries an action tag the bot does not handle.
type Unknown struct {
	Meta
	Tag string
}

func (CreateProject) Action() Action     { return ActionCreateProject }
func (ClarifyIntent) Action() Action     { return ActionClarifyIntent }
func (UpdateStatus) Action() Action      { return ActionUpdateStatus }
func (UpdateProject) Action() Action     { return ActionUpdateProject }
func (AddNotes) Action() Action          { return ActionAddNotes }
func (UpdateProjectInfo) Action() Action { return ActionUpdateProjectInfo }
func (ArchiveProject) Action() Action    { return ActionArchiveProject }
func (QueryProjects) Action() Action     { return ActionQueryProjects }
func (GeneralChat) Action() Action       { return ActionGeneralChat }
func (Unknown) Action() Action           { return ActionUnknown }

// Priority is how strongly the model recommends new columns.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// RecommendedColumn is one suggested record store column.
type RecommendedColumn struct {
	Name    string             `json:"name"`
	Kind    project.ColumnKind `json:"type"`
	Reason  string             `json:"reason,omitempty"`
	Options []string           `json:"options,omitempty"`
}

// ColumnPlan is the model's opinion on which columns a new project needs.
type ColumnPlan struct {
	ProjectType     string              `json:"project_type"`
	ContentAnalysis string              `json:"content_analysis"`
	Columns         []RecommendedColumn `json:"recommended_columns"`
	Priority        Priority            `json:"priority"`
}

// ShouldApply reports whether the plan is worth acting on.
func (p ColumnPlan) ShouldApply() bool {
	return (p.Priority == PriorityHigh || p.Priority == PriorityMedium) && len(p.Columns) > 0
}

// StoreColumns returns the recommended columns with a supported kind and a
// name.
func (p ColumnPlan) StoreColumns() []project.Column {
	out := make([]project.Column, 0, len(p.Columns))
	for _, c := range p.Columns {
		if c.Name == "" || !c.Kind.Valid() || c.Kind == project.ColumnTitle {
			continue
		}
		out = append(out, project.Column{Name: c.Name, Kind: c.Kind, Options: c.Options})
	}
	return out
}
