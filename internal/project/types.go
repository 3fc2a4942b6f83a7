// Package project defines the creative-project record the bot tracks and the
// closed vocabularies for its type and status.
package project

import (
	"strings"
	"time"
)

// Type is the kind of creative endeavor.
type Type string

const (
	TypeSong     Type = "Song"
	TypeBook     Type = "Book"
	TypeCourse   Type = "Course"
	TypeRetreat  Type = "Retreat"
	TypeWorkshop Type = "Workshop"
	TypeAlbum    Type = "Album"
	TypeProject  Type = "Project"
)

// Types lists every Type in display order.
var Types = []Type{TypeSong, TypeBook, TypeCourse, TypeRetreat, TypeWorkshop, TypeAlbum, TypeProject}

// Status is where a project stands. Any status may follow any other.
type Status string

const (
	StatusIdea       Status = "Idea"
	StatusInProgress Status = "In Progress"
	StatusPaused     Status = "Paused"
	StatusCompleted  Status = "Completed"
	StatusReleased   Status = "Released"
	StatusArchived   Status = "Archived"
)

// Statuses lists every Status.
var Statuses = []Status{StatusIdea, StatusInProgress, StatusPaused, StatusCompleted, StatusReleased, StatusArchived}

// DefaultName is used when a project is created without a name.
const DefaultName = "New Project"

// Project is one stored creative endeavor.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           Type      `json:"type"`
	Status         Status    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	OriginalAudio  string    `json:"original_audio,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Date           string    `json:"date,omitempty"`
	CreatedTime    time.Time `json:"created_time"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

// Draft holds the fields for a new project.
type Draft struct {
	Name          string
	Type          Type
	Status        Status
	Notes         string
	OriginalAudio string
	Tags          []string
	Date          time.Time
}

// WithDefaults fills in the name, type and status a new project must have.
func (d Draft) WithDefaults() Draft {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		d.Name = DefaultName
	}
	if d.Type == "" {
		d.Type = TypeProject
	}
	if d.Status == "" {
		d.Status = StatusIdea
	}
	return d
}

// Fields is a partial update. Nil pointers and a nil Tags slice leave the
// stored value untouched.
type Fields struct {
	Name          *string
	Type          *Type
	Status        *Status
	Notes         *string
	OriginalAudio *string
	Tags          []string
}

// IsEmpty reports whether the update would change nothing.
func (f Fields) IsEmpty() bool {
	return f.Name == nil && f.Type == nil && f.Status == nil &&
		f.Notes == nil && f.OriginalAudio == nil && f.Tags == nil
}

// Filter selects projects on the store side. Zero values match everything.
type Filter struct {
	Status Status
	Type   Type
}

// ColumnKind is the type of a record store column.
type ColumnKind string

const (
	ColumnTitle       ColumnKind = "title"
	ColumnSelect      ColumnKind = "select"
	ColumnMultiSelect ColumnKind = "multi_select"
	ColumnRichText    ColumnKind = "rich_text"
	ColumnNumber      ColumnKind = "number"
	ColumnDate        ColumnKind = "date"
	ColumnCheckbox    ColumnKind = "checkbox"
	ColumnURL         ColumnKind = "url"
)

// Valid reports whether k is one of the supported column kinds.
func (k ColumnKind) Valid() bool {
	switch k {
	case ColumnTitle, ColumnSelect, ColumnMultiSelect, ColumnRichText,
		ColumnNumber, ColumnDate, ColumnCheckbox, ColumnURL:
		return true
	}
	return false
}

// Column describes a typed column in the record store.
type Column struct {
	Name    string     `yaml:"name" json:"name"`
	Kind    ColumnKind `yaml:"type" json:"type"`
	Options []string   `yaml:"options,omitempty" json:"options,omitempty"`
}

// ParseType maps free text to a Type. It ignores case and a trailing plural "s".
func ParseType(s string) (Type, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	for _, t := range Types {
		name := strings.ToLower(string(t))
		if key == name || key == name+"s" {
			return t, true
		}
	}
	return "", false
}

// ParseStatus maps free text to a Status. It ignores case and treats
// underscores and hyphens as spaces.
func ParseStatus(s string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	if key == "" {
		return "", false
	}
	for _, st := range Statuses {
		if key == strings.ToLower(string(st)) {
			return st, true
		}
	}
	if key == "active" || key == "in work" || key == "started" {
		return StatusInProgress, true
	}
	return "", false
}
