package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/ideabot/internal/matcher"
	"github.com/p-blackswan/ideabot/internal/nlu"
	"github.com/p-blackswan/ideabot/internal/project"
	"github.com/p-blackswan/ideabot/internal/requestid"
)

const (
	textUnknown        = "I understand the message, but I'm not sure how to respond. Could you be more specific?"
	textNotUnderstood  = "I couldn't understand that. Could you rephrase?"
	textStoreError     = "Something went wrong while reaching your projects. Please try again."
	textCreateFailed   = "Could not create the project. Please try again."
	textChatFailed     = "Sorry, I can't answer right now. Please try again in a moment."
	textNoMatches      = "No projects found matching your query."
	textClarify        = "This might belong to a project you already have. Add it to one of these, or start a new project?"
	textStatusMissing  = "Project or new status not specified."
	textLegacyMissing  = "Which project should be updated? Please clarify."
	textNotesMissing   = "Project or notes not specified."
	textInfoMissing    = "Project or changes not specified."
	textArchiveMissing = "Project to archive not specified."
	textClarifyMissing = "Tell me a bit more about the project you mean."

	// transcriptNote stands in for the notes of a selection whose message
	// carried none of its own.
	transcriptNote = "Audio transcription added"
)

func notFound(identifier string) Result {
	return Result{Outcome: OutcomeNotFound, Text: fmt.Sprintf("Project '%s' not found.", identifier)}
}

func invalid(text string) Result {
	return Result{Outcome: OutcomeInvalid, Text: text}
}

// lookup resolves identifier to one stored project with the tiered matcher.
// ok is false when res holds the message to return instead.
func (r *Resolver) lookup(ctx context.Context, identifier string) (p project.Project, res Result, ok bool) {
	all, err := r.store.Query(ctx, project.Filter{})
	if err != nil {
		return p, r.failed(ctx, "query", err, textStoreError), false
	}
	p, found := matcher.FindByKeywords(identifier, all)
	if !found {
		return p, notFound(identifier), false
	}
	return p, Result{}, true
}

func (r *Resolver) createProject(ctx context.Context, req Request, data nlu.ProjectData) Result {
	draft := project.Draft{
		Name:          data.Name,
		Type:          data.Type,
		Status:        data.Status,
		Notes:         strings.TrimSpace(data.Notes),
		OriginalAudio: strings.TrimSpace(req.Transcript),
		Tags:          data.Tags,
		Date:          r.now(),
	}.WithDefaults()

	if r.analyzeColumns && r.oracle != nil {
		r.ensureColumns(ctx, columnSource(req, draft))
	}

	id, err := r.store.Create(ctx, draft)
	if err != nil {
		return r.failed(ctx, "create", err, textCreateFailed)
	}

	subject := fmt.Sprintf("Project '%s' of type '%s' created successfully", draft.Name, draft.Type)
	text := r.reply(ctx, nlu.ReplyCreateSuccess, subject,
		fmt.Sprintf("Saved your new %s '%s'.", strings.ToLower(string(draft.Type)), draft.Name))
	return Result{Outcome: OutcomeOK, Text: text, ProjectID: id, ProjectName: draft.Name}
}

// columnSource is the text the column analysis looks at.
func columnSource(req Request, d project.Draft) string {
	if req.Transcript != "" {
		return req.Transcript
	}
	if req.Intent != nil {
		if msg := req.Intent.Metadata().Message; msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("%s (%s) %s", d.Name, d.Type, d.Notes)
}

// ensureColumns adds the columns the oracle recommends for text. Failures
// are logged and never block the create.
func (r *Resolver) ensureColumns(ctx context.Context, text string) {
	log := requestid.Logger(ctx, r.logger)
	plan, err := r.oracle.AnalyzeColumns(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("column analysis failed")
		return
	}
	if !plan.ShouldApply() {
		return
	}
	for _, col := range plan.StoreColumns() {
		if err := r.store.AddField(ctx, col); err != nil {
			log.Warn().Err(err).Str("column", col.Name).Msg("add recommended column failed")
			continue
		}
		log.Debug().Str("column", col.Name).Str("priority", string(plan.Priority)).Msg("recommended column ensured")
	}
}

func (r *Resolver) clarify(ctx context.Context, req Request, in nlu.ClarifyIntent) Result {
	keywords := strings.TrimSpace(in.SearchKeywords)
	if keywords == "" {
		keywords = strings.TrimSpace(in.Data.Name + " " + string(in.Data.Type) + " " + strings.Join(in.Data.Tags, " "))
	}
	if keywords == "" && in.Data.IsEmpty() {
		return invalid(textClarifyMissing)
	}

	if keywords != "" && r.sessions != nil {
		all, err := r.store.Query(ctx, project.Filter{})
		if err != nil {
			return r.failed(ctx, "query", err, textStoreError)
		}
		candidates := matcher.Projects(matcher.FindSimilar(keywords, all, r.limit))
		if len(candidates) > 0 {
			opts := r.sessions.Begin(req.UserID, Pending{
				Intent:     in,
				Transcript: req.Transcript,
				UserID:     req.UserID,
				ChatID:     req.ChatID,
				Candidates: candidates,
				CreatedAt:  r.now(),
			})
			return Result{Outcome: OutcomePending, Text: textClarify, Options: opts}
		}
	}
	return r.createProject(ctx, req, clarifyData(in))
}

// clarifyData is the project a clarify intent creates when it matches
// nothing or the user picks "create new".
func clarifyData(in nlu.ClarifyIntent) nlu.ProjectData {
	d := in.Data
	if d.Notes == "" {
		d.Notes = in.AdditionalNotes
	}
	if d.Name == "" && in.SearchKeywords != "" {
		d.Name = in.SearchKeywords
	}
	return d
}

// CreateFrom creates the project described by a pending clarify intent.
func (r *Resolver) CreateFrom(ctx context.Context, p Pending) Result {
	req := Request{UserID: p.UserID, ChatID: p.ChatID, Intent: p.Intent, Transcript: p.Transcript}
	res := r.createProject(ctx, req, clarifyData(p.Intent))
	res.Action = nlu.ActionCreateProject
	return res
}

// AddNotesTo appends the notes of a pending clarify intent to target.
func (r *Resolver) AddNotesTo(ctx context.Context, p Pending, target project.Project) Result {
	notes := p.Intent.AdditionalNotes
	if notes == "" {
		notes = p.Intent.Data.Notes
	}
	if notes == "" && p.Transcript != "" {
		notes = transcriptNote
	}
	if strings.TrimSpace(notes) == "" {
		notes = p.Intent.Message
	}
	if strings.TrimSpace(notes) == "" {
		notes = transcriptNote
	}

	// The candidate was captured when the question was asked; re-read it so
	// that the append is against the current log.
	all, err := r.store.Query(ctx, project.Filter{})
	if err != nil {
		res := r.failed(ctx, "query", err, textStoreError)
		res.Action = nlu.ActionAddNotes
		return res
	}
	current, found := findByID(all, target.ID)
	if !found {
		res := notFound(target.Name)
		res.Action = nlu.ActionAddNotes
		return res
	}
	res := r.appendNotes(ctx, current, notes, p.Intent.NoteType, p.Transcript)
	res.Action = nlu.ActionAddNotes
	return res
}

func findByID(projects []project.Project, id string) (project.Project, bool) {
	for _, p := range projects {
		if p.ID == id {
			return p, true
		}
	}
	return project.Project{}, false
}

func (r *Resolver) appendNotes(ctx context.Context, p project.Project, notes, noteType, transcript string) Result {
	now := r.now()
	var f project.Fields
	if strings.TrimSpace(notes) != "" {
		v := project.AppendLog(p.Notes, project.NoteSegment(now, noteType, notes))
		f.Notes = &v
	}
	if strings.TrimSpace(transcript) != "" {
		v := project.AppendLog(p.OriginalAudio, project.AudioSegment(now, transcript))
		f.OriginalAudio = &v
	}
	if err := r.store.Patch(ctx, p.ID, f); err != nil {
		return r.failed(ctx, "patch", err, fmt.Sprintf("Could not add notes to project '%s'.", p.Name))
	}
	return Result{
		Outcome:     OutcomeOK,
		Text:        fmt.Sprintf("Notes added to project '%s'.", p.Name),
		ProjectID:   p.ID,
		ProjectName: p.Name,
	}
}

func (r *Resolver) addNotes(ctx context.Context, req Request, in nlu.AddNotes) Result {
	if strings.TrimSpace(in.Identifier) == "" || strings.TrimSpace(in.Notes) == "" {
		return invalid(textNotesMissing)
	}
	p, res, ok := r.lookup(ctx, in.Identifier)
	if !ok {
		return res
	}
	return r.appendNotes(ctx, p, in.Notes, in.NoteType, req.Transcript)
}

func (r *Resolver) updateStatus(ctx context.Context, in nlu.UpdateStatus) Result {
	if strings.TrimSpace(in.Identifier) == "" || in.NewStatus == "" {
		return invalid(textStatusMissing)
	}
	p, res, ok := r.lookup(ctx, in.Identifier)
	if !ok {
		return res
	}
	status := in.NewStatus
	if err := r.store.Patch(ctx, p.ID, project.Fields{Status: &status}); err != nil {
		return r.failed(ctx, "patch", err, fmt.Sprintf("Could not update project '%s'.", p.Name))
	}

	text := fmt.Sprintf("%s Project '%s' status changed to '%s'", StatusEmoji(status), p.Name, status)
	if reason := strings.TrimSpace(in.Reason); reason != "" {
		note := fmt.Sprintf("Changed to %s. Reason: %s", status, reason)
		if r.addReason(ctx, p, "status", note) {
			text += "\nReason: " + reason
		}
	}
	return Result{Outcome: OutcomeOK, Text: text, ProjectID: p.ID, ProjectName: p.Name}
}

// addReason appends a typed note as a second patch after a status change.
// The status change already happened, so a failure here is only logged.
func (r *Resolver) addReason(ctx context.Context, p project.Project, noteType, text string) bool {
	notes := project.AppendLog(p.Notes, project.NoteSegment(r.now(), noteType, text))
	if err := r.store.Patch(ctx, p.ID, project.Fields{Notes: &notes}); err != nil {
		log := requestid.Logger(ctx, r.logger)
		log.Error().Err(err).Str("project_id", p.ID).Str("note_type", noteType).Msg("append reason note failed")
		return false
	}
	return true
}

func (r *Resolver) updateProject(ctx context.Context, in nlu.UpdateProject) Result {
	if in.ProjectName == "" || in.NewStatus == "" {
		return invalid(textLegacyMissing)
	}
	all, err := r.store.Query(ctx, project.Filter{})
	if err != nil {
		return r.failed(ctx, "query", err, textStoreError)
	}
	p, found := matcher.FindByName(in.ProjectName, all)
	if !found {
		return Result{Outcome: OutcomeNotFound, Text: fmt.Sprintf("Could not find project '%s'.", in.ProjectName)}
	}
	status := in.NewStatus
	if err := r.store.Patch(ctx, p.ID, project.Fields{Status: &status}); err != nil {
		return r.failed(ctx, "patch", err, fmt.Sprintf("Could not update project '%s'.", p.Name))
	}
	subject := fmt.Sprintf("Project '%s' status changed to '%s'", p.Name, status)
	text := r.reply(ctx, nlu.ReplyUpdateSuccess, subject, subject+".")
	return Result{Outcome: OutcomeOK, Text: text, ProjectID: p.ID, ProjectName: p.Name}
}

func (r *Resolver) updateInfo(ctx context.Context, in nlu.UpdateProjectInfo) Result {
	if strings.TrimSpace(in.Identifier) == "" || in.Updates.IsEmpty() {
		return invalid(textInfoMissing)
	}
	p, res, ok := r.lookup(ctx, in.Identifier)
	if !ok {
		return res
	}

	f := project.Fields{Name: in.Updates.Name, Type: in.Updates.Type, Tags: in.Updates.Tags}
	if err := r.store.Patch(ctx, p.ID, f); err != nil {
		return r.failed(ctx, "patch", err, fmt.Sprintf("Could not update project '%s'.", p.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project '%s' updated:", p.Name)
	if f.Name != nil {
		fmt.Fprintf(&b, "\n• name → '%s'", *f.Name)
	}
	if f.Type != nil {
		fmt.Fprintf(&b, "\n• type → '%s'", *f.Type)
	}
	if f.Tags != nil {
		fmt.Fprintf(&b, "\n• tags → %s", strings.Join(f.Tags, ", "))
	}
	name := p.Name
	if f.Name != nil {
		name = *f.Name
	}
	return Result{Outcome: OutcomeOK, Text: b.String(), ProjectID: p.ID, ProjectName: name}
}

func (r *Resolver) archive(ctx context.Context, in nlu.ArchiveProject) Result {
	if strings.TrimSpace(in.Identifier) == "" {
		return invalid(textArchiveMissing)
	}
	p, res, ok := r.lookup(ctx, in.Identifier)
	if !ok {
		return res
	}
	archived := project.StatusArchived
	if err := r.store.Patch(ctx, p.ID, project.Fields{Status: &archived}); err != nil {
		return r.failed(ctx, "patch", err, fmt.Sprintf("Could not archive project '%s'.", p.Name))
	}

	text := fmt.Sprintf("%s Project '%s' archived", StatusEmoji(archived), p.Name)
	if reason := strings.TrimSpace(in.Reason); reason != "" {
		if r.addReason(ctx, p, "archived", reason) {
			text += "\nReason: " + reason
		}
	}
	return Result{Outcome: OutcomeOK, Text: text, ProjectID: p.ID, ProjectName: p.Name}
}

func (r *Resolver) query(ctx context.Context, in nlu.QueryProjects) Result {
	var f project.Filter
	switch in.QueryType {
	case nlu.QueryByStatus:
		f.Status = in.Filter.Status
	case nlu.QueryByType:
		f.Type = in.Filter.Type
	}
	// A filtered query whose value did not parse matches nothing.
	if (in.QueryType == nlu.QueryByStatus && f.Status == "") || (in.QueryType == nlu.QueryByType && f.Type == "") {
		return Result{Outcome: OutcomeEmpty, Text: textNoMatches}
	}
	projects, err := r.store.Query(ctx, f)
	if err != nil {
		return r.failed(ctx, "query", err, "An error occurred while searching for projects.")
	}
	if len(projects) == 0 {
		return Result{Outcome: OutcomeEmpty, Text: textNoMatches}
	}
	return Result{Outcome: OutcomeOK, Text: FormatGroups(queryTitle(in.QueryType, f), project.GroupByType(projects))}
}

func queryTitle(qt nlu.QueryType, f project.Filter) string {
	switch {
	case qt == nlu.QueryByStatus && f.Status != "":
		return fmt.Sprintf("Projects with status %s:", f.Status)
	case qt == nlu.QueryByType && f.Type != "":
		return fmt.Sprintf("Your %s projects:", strings.ToLower(string(f.Type)))
	default:
		return "All your projects:"
	}
}

func (r *Resolver) chat(ctx context.Context, in nlu.GeneralChat) Result {
	msg := in.Message
	if r.oracle == nil {
		return Result{Outcome: OutcomeChat, Text: textChatFailed}
	}
	text, err := r.oracle.Reply(ctx, nlu.ReplyGeneralChat, msg)
	if err != nil || strings.TrimSpace(text) == "" {
		log := requestid.Logger(ctx, r.logger)
		log.Warn().Err(err).Msg("chat reply failed")
		return Result{Outcome: OutcomeChat, Text: textChatFailed}
	}
	return Result{Outcome: OutcomeChat, Text: text}
}

// reply asks the oracle to phrase subject, using fallback when it can't.
func (r *Resolver) reply(ctx context.Context, kind nlu.ReplyKind, subject, fallback string) string {
	if r.oracle == nil {
		return fallback
	}
	text, err := r.oracle.Reply(ctx, kind, subject)
	if err != nil || strings.TrimSpace(text) == "" {
		log := requestid.Logger(ctx, r.logger)
		log.Warn().Err(err).Str("kind", string(kind)).Msg("reply phrasing failed, using fixed text")
		return fallback
	}
	return text
}
