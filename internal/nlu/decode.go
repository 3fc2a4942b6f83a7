package nlu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/p-blackswan/ideabot/internal/project"
)

// ErrMalformedOutput means the model's reply was not the JSON object it was
// asked for. Callers treat it like a failed call.
var ErrMalformedOutput = errors.New("nlu: malformed model output")

// ErrEmptyTranscript means transcription succeeded but produced no text.
var ErrEmptyTranscript = errors.New("nlu: empty transcript")

// flexFloat accepts 0.9 and "0.9".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// stringList accepts ["a","b"] and "a, b".
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = splitTags(s)
		return nil
	}
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	*l = out
	return nil
}

func splitTags(s string) []string {
	out := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type wireProjectData struct {
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Status string     `json:"status"`
	Notes  string     `json:"notes"`
	Tags   stringList `json:"tags"`
}

type wireUpdates struct {
	Name *string    `json:"name"`
	Type *string    `json:"type"`
	Tags stringList `json:"tags"`
}

type wireFilters struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

type wireIntent struct {
	Action            string           `json:"action"`
	Confidence        flexFloat        `json:"confidence"`
	Message           string           `json:"message"`
	ProjectData       *wireProjectData `json:"project_data"`
	ProjectIdentifier string           `json:"project_identifier"`
	ProjectName       string           `json:"project_name"`
	NewStatus         string           `json:"new_status"`
	AdditionalNotes   string           `json:"additional_notes"`
	NoteType          string           `json:"note_type"`
	Updates           *wireUpdates     `json:"updates"`
	Reason            string           `json:"reason"`
	QueryType         string           `json:"query_type"`
	Filters           *wireFilters     `json:"filters"`
	SearchKeywords    string           `json:"search_keywords"`
}

// ExtractJSON strips markdown code fences and any prose around the outermost
// JSON object in s.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// DecodeIntent parses the model's JSON reply. Unknown action tags decode to
// Unknown. Enum values the bot does not recognise are dropped so that the
// resolver asks for clarification instead of writing them.
func DecodeIntent(raw string) (Intent, error) {
	var w wireIntent
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	meta := Meta{Confidence: float64(w.Confidence), Message: strings.TrimSpace(w.Message)}
	ident := strings.TrimSpace(w.ProjectIdentifier)

	switch Action(strings.ToLower(strings.TrimSpace(w.Action))) {
	case ActionCreateProject:
		return CreateProject{Meta: meta, Data: w.ProjectData.decode()}, nil
	case ActionClarifyIntent:
		return ClarifyIntent{
			Meta:            meta,
			SearchKeywords:  strings.TrimSpace(w.SearchKeywords),
			Data:            w.ProjectData.decode(),
			AdditionalNotes: strings.TrimSpace(w.AdditionalNotes),
			NoteType:        strings.TrimSpace(w.NoteType),
		}, nil
	case ActionUpdateStatus:
		return UpdateStatus{Meta: meta, Identifier: ident, NewStatus: status(w.NewStatus), Reason: strings.TrimSpace(w.Reason)}, nil
	case ActionUpdateProject:
		name := w.ProjectName
		if name == "" {
			name = w.ProjectIdentifier
		}
		return UpdateProject{Meta: meta, ProjectName: strings.TrimSpace(name), NewStatus: status(w.NewStatus)}, nil
	case ActionAddNotes:
		return AddNotes{Meta: meta, Identifier: ident, Notes: strings.TrimSpace(w.AdditionalNotes), NoteType: strings.TrimSpace(w.NoteType)}, nil
	case ActionUpdateProjectInfo:
		return UpdateProjectInfo{Meta: meta, Identifier: ident, Updates: w.Updates.decode()}, nil
	case ActionArchiveProject:
		return ArchiveProject{Meta: meta, Identifier: ident, Reason: strings.TrimSpace(w.Reason)}, nil
	case ActionQueryProjects:
		return w.decodeQuery(meta), nil
	case ActionGeneralChat:
		return GeneralChat{Meta: meta}, nil
	default:
		return Unknown{Meta: meta, Tag: w.Action}, nil
	}
}

func (d *wireProjectData) decode() ProjectData {
	if d == nil {
		return ProjectData{}
	}
	out := ProjectData{
		Name:  strings.TrimSpace(d.Name),
		Notes: strings.TrimSpace(d.Notes),
		Tags:  []string(d.Tags),
	}
	if t, ok := project.ParseType(d.Type); ok {
		out.Type = t
	}
	out.Status = status(d.Status)
	return out
}

func (u *wireUpdates) decode() Updates {
	if u == nil {
		return Updates{}
	}
	var out Updates
	if u.Name != nil {
		if n := strings.TrimSpace(*u.Name); n != "" {
			out.Name = &n
		}
	}
	if u.Type != nil {
		if t, ok := project.ParseType(*u.Type); ok {
			out.Type = &t
		}
	}
	if u.Tags != nil {
		out.Tags = []string(u.Tags)
	}
	return out
}

func (w wireIntent) decodeQuery(meta Meta) QueryProjects {
	q := QueryProjects{Meta: meta, QueryType: QueryAll}
	var f wireFilters
	if w.Filters != nil {
		f = *w.Filters
	}
	switch QueryType(strings.ToLower(strings.TrimSpace(w.QueryType))) {
	case QueryByStatus:
		// An unrecognised value leaves the filter empty; the query still
		// narrows rather than widening to every project.
		q.QueryType = QueryByStatus
		q.Filter.Status, _ = project.ParseStatus(f.Status)
	case QueryByType:
		q.QueryType = QueryByType
		q.Filter.Type, _ = project.ParseType(f.Type)
	}
	return q
}

func status(s string) project.Status {
	st, _ := project.ParseStatus(s)
	return st
}
