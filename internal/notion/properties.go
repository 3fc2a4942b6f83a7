package notion

import (
	"strings"
	"time"

	"github.com/p-blackswan/ideabot/internal/project"
)

// Column names of the projects database.
const (
	PropName          = "Name"
	PropType          = "Type"
	PropStatus        = "Status"
	PropNotes         = "Processed Notes"
	PropOriginalAudio = "Original Audio"
	PropTags          = "Tags"
	PropDate          = "Date"
)

// maxRichText is the longest content Notion accepts in one text object.
const maxRichText = 2000

type textContent struct {
	Content string `json:"content"`
}

type richText struct {
	Type      string       `json:"type,omitempty"`
	Text      *textContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type selectOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

// property is the union of the property value shapes this bot reads and
// writes. Only the member matching Type is set.
type property struct {
	Type        string         `json:"type,omitempty"`
	Title       []richText     `json:"title,omitempty"`
	RichText    []richText     `json:"rich_text,omitempty"`
	Select      *selectOption  `json:"select,omitempty"`
	MultiSelect []selectOption `json:"multi_select,omitempty"`
	Date        *dateValue     `json:"date,omitempty"`
}

// writeProperty marshals with explicit empty arrays so that clearing a
// field is sent as [] rather than dropped.
type writeProperty map[string]any

type page struct {
	ID             string              `json:"id"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	Properties     map[string]property `json:"properties"`
}

// chunkText splits s into pieces of at most maxRichText runes.
func chunkText(s string) []richText {
	out := []richText{}
	runes := []rune(s)
	for len(runes) > 0 {
		n := len(runes)
		if n > maxRichText {
			n = maxRichText
		}
		out = append(out, richText{Type: "text", Text: &textContent{Content: string(runes[:n])}})
		runes = runes[n:]
	}
	return out
}

func plain(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		switch {
		case p.PlainText != "":
			b.WriteString(p.PlainText)
		case p.Text != nil:
			b.WriteString(p.Text.Content)
		}
	}
	return b.String()
}

func titleValue(s string) writeProperty {
	return writeProperty{"title": chunkText(s)}
}

func richTextValue(s string) writeProperty {
	return writeProperty{"rich_text": chunkText(s)}
}

func selectValue(name string) writeProperty {
	if name == "" {
		return writeProperty{"select": nil}
	}
	return writeProperty{"select": selectOption{Name: name}}
}

func multiSelectValue(names []string) writeProperty {
	opts := make([]selectOption, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		// Notion rejects commas in option names.
		n = strings.TrimSpace(strings.ReplaceAll(n, ",", " "))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		opts = append(opts, selectOption{Name: n})
	}
	return writeProperty{"multi_select": opts}
}

func dateValueOf(t time.Time) writeProperty {
	return writeProperty{"date": dateValue{Start: t.Format("2006-01-02")}}
}

func draftProperties(d project.Draft) map[string]writeProperty {
	props := map[string]writeProperty{
		PropName:   titleValue(d.Name),
		PropType:   selectValue(string(d.Type)),
		PropStatus: selectValue(string(d.Status)),
	}
	if d.Notes != "" {
		props[PropNotes] = richTextValue(d.Notes)
	}
	if d.OriginalAudio != "" {
		props[PropOriginalAudio] = richTextValue(d.OriginalAudio)
	}
	if len(d.Tags) > 0 {
		props[PropTags] = multiSelectValue(d.Tags)
	}
	if !d.Date.IsZero() {
		props[PropDate] = dateValueOf(d.Date)
	}
	return props
}

func fieldProperties(f project.Fields) map[string]writeProperty {
	props := make(map[string]writeProperty)
	if f.Name != nil {
		props[PropName] = titleValue(*f.Name)
	}
	if f.Type != nil {
		props[PropType] = selectValue(string(*f.Type))
	}
	if f.Status != nil {
		props[PropStatus] = selectValue(string(*f.Status))
	}
	if f.Notes != nil {
		props[PropNotes] = richTextValue(*f.Notes)
	}
	if f.OriginalAudio != nil {
		props[PropOriginalAudio] = richTextValue(*f.OriginalAudio)
	}
	if f.Tags != nil {
		props[PropTags] = multiSelectValue(f.Tags)
	}
	return props
}

// decodePage maps a database row to a Project. Select values outside the
// closed vocabularies are dropped rather than propagated.
func decodePage(p page) project.Project {
	out := project.Project{
		ID:             p.ID,
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
	}
	// The title column may have been renamed; find it by type.
	if prop, ok := p.Properties[PropName]; ok && len(prop.Title) > 0 {
		out.Name = plain(prop.Title)
	} else {
		for _, prop := range p.Properties {
			if prop.Type == "title" {
				out.Name = plain(prop.Title)
				break
			}
		}
	}
	if prop, ok := p.Properties[PropType]; ok && prop.Select != nil {
		if t, ok := project.ParseType(prop.Select.Name); ok {
			out.Type = t
		}
	}
	if prop, ok := p.Properties[PropStatus]; ok && prop.Select != nil {
		if st, ok := project.ParseStatus(prop.Select.Name); ok {
			out.Status = st
		}
	}
	if prop, ok := p.Properties[PropNotes]; ok {
		out.Notes = plain(prop.RichText)
	}
	if prop, ok := p.Properties[PropOriginalAudio]; ok {
		out.OriginalAudio = plain(prop.RichText)
	}
	if prop, ok := p.Properties[PropTags]; ok {
		for _, o := range prop.MultiSelect {
			out.Tags = append(out.Tags, o.Name)
		}
	}
	if prop, ok := p.Properties[PropDate]; ok && prop.Date != nil {
		out.Date = prop.Date.Start
	}
	return out
}
