package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// FallbackLabel is assigned when classification is disabled, fails to
// match a template, or returns nothing usable.
const FallbackLabel = "unclassified"

// RunnerConfig carries the processing policy knobs.
type RunnerConfig struct {
	IgnoreFolders      []string
	DefaultDestination string
	AttachmentsFolder  string
	TagScoreThreshold  float64
	ClassifyEnabled    bool
	RenameEnabled      bool
	MaxAttempts        int
}

// PipelineObserver receives processing signals for metrics export.
type PipelineObserver interface {
	ObserveStep(action domain.Action, duration time.Duration, err error)
	ObserveFile(status domain.FileStatus, duration time.Duration)
	ObserveQueueDepth(depth int)
	ObserveQueueWait(wait time.Duration)
}

// Runner drives one file at a time through the fixed action sequence,
// coordinating the AI service and the vault, and reporting every step to
// the record manager. Nothing escapes the per-file boundary.
type Runner struct {
	cfg        RunnerConfig
	queue      *Queue
	records    *RecordManager
	ai         ports.AIService
	files      ports.FileStore
	templates  ports.TemplateSource
	extractors map[domain.FileKind]ports.Extractor
	observer   PipelineObserver
	logger     *slog.Logger
	now        func() time.Time
}

func NewRunner(
	cfg RunnerConfig,
	queue *Queue,
	records *RecordManager,
	ai ports.AIService,
	files ports.FileStore,
	templates ports.TemplateSource,
	extractors []ports.Extractor,
	observer PipelineObserver,
	logger *slog.Logger,
) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	byKind := make(map[domain.FileKind]ports.Extractor, len(extractors))
	for _, ex := range extractors {
		byKind[ex.Kind()] = ex
	}
	return &Runner{
		cfg:        cfg,
		queue:      queue,
		records:    records,
		ai:         ai,
		files:      files,
		templates:  templates,
		extractors: byKind,
		observer:   observer,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessNext dequeues and processes one file. It reports whether any
// work was found; processing outcomes land in the record, not the error.
func (r *Runner) ProcessNext(ctx context.Context) bool {
	filePath, ok := r.queue.DequeueNext()
	if !ok {
		return false
	}
	if r.observer != nil {
		r.observer.ObserveQueueWait(r.queue.WaitTime(filePath))
	}
	r.processFile(ctx, filePath)
	if r.observer != nil {
		r.observer.ObserveQueueDepth(r.queue.Len())
	}
	return true
}

func (r *Runner) processFile(ctx context.Context, filePath string) {
	start := r.now()
	rec := r.records.GetOrCreate(ctx, filePath)
	r.records.MarkHeld(ctx, rec.ID)

	outcome := r.runGuarded(ctx, rec.ID, filePath)

	r.records.ReleaseHeld(ctx, rec.ID)
	switch outcome {
	case passRetry:
		attempts := r.records.IncAttempts(ctx, rec.ID)
		if attempts < r.cfg.MaxAttempts {
			r.queue.RequeueAtEnd(filePath)
		} else {
			r.logger.Warn("retry_budget_exhausted", "path", filePath, "attempts", attempts)
			r.queue.Release(filePath)
		}
	default:
		r.queue.Release(filePath)
	}

	final, _ := r.records.Get(rec.ID)
	if r.observer != nil {
		r.observer.ObserveFile(final.Status, r.now().Sub(start))
	}
	r.logger.Info("file_processed", "path", final.Path, "status", string(final.Status), "attempts", final.Attempts)
}

type passOutcome int

const (
	passDone passOutcome = iota
	passRetry
	passSkipped
)

// runGuarded is the per-file fault boundary: a panic inside any step is
// converted into an error log entry for the action in flight.
func (r *Runner) runGuarded(ctx context.Context, id, filePath string) (outcome passOutcome) {
	current := domain.ActionExtract
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			_ = r.records.LogStep(ctx, id, current, StepOutcome{Err: err})
			r.logger.Error("pipeline_panic", "path", filePath, "action", string(current), "error", err)
			outcome = passDone
		}
	}()
	return r.runPass(ctx, id, filePath, &current)
}

func (r *Runner) runPass(ctx context.Context, id, filePath string, current *domain.Action) passOutcome {
	exists, err := r.files.Exists(ctx, filePath)
	if err == nil && !exists {
		r.records.MarkMissing(ctx, id)
		return passSkipped
	}

	kind := domain.KindOf(filePath)

	// Validation precedes any AI call.
	if reason, bypassed := r.validate(filePath, kind); bypassed {
		r.bypass(ctx, id, filePath, domain.ActionExtract, reason)
		return passDone
	}

	p := &pass{id: id, path: filePath, kind: kind, name: baseName(filePath)}

	steps := []struct {
		action domain.Action
		fn     func(context.Context, *pass) error
	}{
		{domain.ActionExtract, r.stepExtract},
		{domain.ActionClassify, r.stepClassify},
		{domain.ActionFormatting, r.stepFormatting},
		{domain.ActionTagging, r.stepTagging},
		{domain.ActionApplyingTags, r.stepApplyingTags},
		{domain.ActionRecommendName, r.stepRecommendName},
		{domain.ActionApplyingName, r.stepApplyingName},
		{domain.ActionMovingAttachment, r.stepMovingAttachment},
		{domain.ActionMoving, r.stepMoving},
		{domain.ActionCleanup, r.stepCleanup},
	}

	for _, step := range steps {
		if step.action == domain.ActionMovingAttachment && !p.kind.Media() {
			continue
		}
		*current = step.action
		stepStart := r.now()
		err := step.fn(ctx, p)
		if r.observer != nil {
			r.observer.ObserveStep(step.action, r.now().Sub(stepStart), err)
		}
		if err != nil {
			var bp *bypassDecision
			if errors.As(err, &bp) {
				r.bypass(ctx, id, p.path, step.action, bp.reason)
				return passDone
			}
			_ = r.records.LogStep(ctx, id, step.action, StepOutcome{Err: err})
			if domain.IsKind(err, domain.ErrTemporary) {
				return passRetry
			}
			return passDone
		}
		out := StepOutcome{Completed: true, Reason: p.skipReason}
		p.skipReason = ""
		_ = r.records.LogStep(ctx, id, step.action, out)
	}

	*current = domain.ActionCompleted
	_ = r.records.LogStep(ctx, id, domain.ActionCompleted, StepOutcome{Completed: true})
	return passDone
}

// pass is the mutable state threaded through one file's step sequence.
type pass struct {
	id   string
	path string
	kind domain.FileKind
	name string

	content        string
	classification string
	instruction    string
	newName        string
	destFolder     string
	skipReason     string
}

type bypassDecision struct{ reason string }

func (b *bypassDecision) Error() string { return "bypassed: " + b.reason }

func (r *Runner) validate(filePath string, kind domain.FileKind) (string, bool) {
	if r.wildcardIgnore() {
		return "all folders ignored", true
	}
	folder := path.Dir(filePath)
	for _, ignored := range r.cfg.IgnoreFolders {
		if ignored == "" {
			continue
		}
		if folder == ignored || strings.HasPrefix(folder, ignored+"/") {
			return "ignored folder", true
		}
	}
	if kind == domain.KindUnsupported {
		return "unsupported file type", true
	}
	return "", false
}

func (r *Runner) wildcardIgnore() bool {
	for _, ignored := range r.cfg.IgnoreFolders {
		if ignored == "*" {
			return true
		}
	}
	return false
}

func (r *Runner) bypass(ctx context.Context, id, filePath string, action domain.Action, reason string) {
	_ = r.records.LogStep(ctx, id, action, StepOutcome{Bypassed: true, Reason: reason})
	// Bypassed files keep the default destination as their assigned
	// folder so the UI still shows where the file would have gone.
	r.records.SetDestination(ctx, id, baseName(filePath), path.Join(r.cfg.DefaultDestination, path.Base(filePath)))
	r.logger.Info("file_bypassed", "path", filePath, "reason", reason)
}

func (r *Runner) stepExtract(ctx context.Context, p *pass) error {
	extractor, ok := r.extractors[p.kind]
	if !ok {
		return &bypassDecision{reason: "unsupported file type"}
	}
	text, err := extractor.Extract(ctx, p.path)
	if err != nil {
		return fmt.Errorf("extract %s: %w", p.kind, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return &bypassDecision{reason: "empty content"}
	}
	p.content = text
	return nil
}

func (r *Runner) stepClassify(ctx context.Context, p *pass) error {
	p.classification = FallbackLabel
	if !r.cfg.ClassifyEnabled {
		p.skipReason = "classification disabled"
		return nil
	}

	templates, err := r.templates.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	if len(templates) == 0 {
		p.skipReason = "no templates"
		return nil
	}

	labels := make([]string, 0, len(templates))
	for _, tpl := range templates {
		labels = append(labels, tpl.Name)
	}
	label, err := r.ai.Classify(ctx, p.content, labels)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	for _, tpl := range templates {
		if strings.EqualFold(tpl.Name, label) {
			p.classification = tpl.Name
			p.instruction = tpl.Instruction
			break
		}
	}
	r.records.SetClassification(ctx, p.id, p.classification)
	return nil
}

func (r *Runner) stepFormatting(ctx context.Context, p *pass) error {
	if p.classification == FallbackLabel || p.instruction == "" {
		p.skipReason = "no matching template"
		return nil
	}

	if p.kind == domain.KindMarkdown {
		// Streamed: every cumulative delta lands in the note as it
		// arrives, so a mid-stream cancellation leaves the last
		// fully-applied delta, not a torn write.
		formatted, err := r.ai.FormatStream(ctx, p.content, p.instruction, func(ctx context.Context, cumulative string) error {
			return r.files.Write(ctx, p.path, cumulative)
		})
		if err != nil {
			return fmt.Errorf("format stream: %w", err)
		}
		p.content = formatted
		return nil
	}

	formatted, err := r.ai.Format(ctx, p.content, p.instruction)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	p.content = formatted
	return nil
}

func (r *Runner) stepTagging(ctx context.Context, p *pass) error {
	existing, err := r.files.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("list vault tags: %w", err)
	}
	suggestions, err := r.ai.SuggestTags(ctx, p.content, p.name, existing)
	if err != nil {
		return fmt.Errorf("suggest tags: %w", err)
	}
	for _, s := range suggestions {
		if s.Score < r.cfg.TagScoreThreshold {
			continue
		}
		tag := normalizeTag(s.Tag)
		if tag == "" {
			continue
		}
		if r.records.AddTag(ctx, p.id, tag) {
			r.logger.Debug("tag_suggested", "path", p.path, "tag", tag, "score", s.Score)
		}
	}
	return nil
}

func (r *Runner) stepApplyingTags(ctx context.Context, p *pass) error {
	rec, ok := r.records.Get(p.id)
	if !ok || len(rec.Tags) == 0 {
		p.skipReason = "no tags"
		return nil
	}

	// Media has no frontmatter to write yet; its tags are applied to the
	// markdown container at the attachment stage.
	if p.kind != domain.KindMarkdown {
		return nil
	}

	fm, err := r.files.ReadFrontmatter(ctx, p.path)
	if err != nil {
		return fmt.Errorf("read frontmatter: %w", err)
	}
	current := frontmatterTags(fm)
	merged := append([]string(nil), current...)
	for _, tag := range rec.Tags {
		if containsTag(current, tag) || inlineTagPresent(p.content, tag) {
			continue
		}
		merged = append(merged, tag)
	}
	if len(merged) == len(current) {
		return nil
	}
	if err := r.files.WriteFrontmatterKey(ctx, p.path, "tags", merged); err != nil {
		return fmt.Errorf("write frontmatter tags: %w", err)
	}
	return nil
}

func (r *Runner) stepRecommendName(ctx context.Context, p *pass) error {
	if !r.cfg.RenameEnabled {
		p.newName = p.name
		p.skipReason = "renaming disabled"
		return nil
	}
	suggestions, err := r.ai.SuggestTitle(ctx, p.content, p.name, "")
	if err != nil {
		return fmt.Errorf("suggest title: %w", err)
	}
	best := topTitle(suggestions)
	if best == "" {
		p.newName = p.name
		return nil
	}
	p.newName = sanitizeName(best)
	if p.newName == "" {
		p.newName = p.name
	}
	return nil
}

func (r *Runner) stepApplyingName(ctx context.Context, p *pass) error {
	if p.newName == "" || p.newName == p.name {
		p.skipReason = "name unchanged"
		return nil
	}
	// Media keeps its original binary name; the chosen name goes to the
	// markdown container created at the attachment stage.
	if p.kind.Media() {
		return nil
	}
	renamed := path.Join(path.Dir(p.path), p.newName+path.Ext(p.path))
	if err := r.files.Move(ctx, p.path, renamed); err != nil {
		return fmt.Errorf("apply name: %w", err)
	}
	p.path = renamed
	r.records.SetPath(ctx, p.id, renamed)
	return nil
}

func (r *Runner) stepMovingAttachment(ctx context.Context, p *pass) error {
	stamp := r.now().UTC().Format("2006-01-02-150405")
	attachmentPath := path.Join(r.cfg.AttachmentsFolder, stamp+"-"+path.Base(p.path))
	if err := r.files.Move(ctx, p.path, attachmentPath); err != nil {
		return fmt.Errorf("move attachment: %w", err)
	}

	containerName := p.newName
	if containerName == "" {
		containerName = p.name
	}
	containerPath := path.Join(path.Dir(p.path), containerName+".md")
	body := fmt.Sprintf("![[%s]]\n\n%s\n", attachmentPath, p.content)
	if err := r.files.Create(ctx, containerPath, body); err != nil {
		return fmt.Errorf("create container note: %w", err)
	}
	if rec, ok := r.records.Get(p.id); ok && len(rec.Tags) > 0 {
		if err := r.files.WriteFrontmatterKey(ctx, containerPath, "tags", rec.Tags); err != nil {
			return fmt.Errorf("write container tags: %w", err)
		}
	}

	p.path = containerPath
	p.kind = domain.KindMarkdown
	r.records.SetPath(ctx, p.id, containerPath)
	return nil
}

func (r *Runner) stepMoving(ctx context.Context, p *pass) error {
	folder, err := r.pickDestination(ctx, p)
	if err != nil {
		return err
	}
	p.destFolder = folder

	target := path.Join(folder, path.Base(p.path))
	if target != p.path {
		if err := r.files.Move(ctx, p.path, target); err != nil {
			return fmt.Errorf("move to destination: %w", err)
		}
		p.path = target
		r.records.SetPath(ctx, p.id, target)
	}
	name := p.newName
	if name == "" {
		name = p.name
	}
	r.records.SetDestination(ctx, p.id, name, target)
	return nil
}

func (r *Runner) pickDestination(ctx context.Context, p *pass) (string, error) {
	allowed, err := r.allowedFolders(ctx)
	if err != nil {
		return "", fmt.Errorf("list folders: %w", err)
	}
	if len(allowed) == 0 {
		return r.cfg.DefaultDestination, nil
	}
	suggestions, err := r.ai.SuggestFolders(ctx, p.content, p.name, allowed)
	if err != nil {
		return "", fmt.Errorf("suggest folders: %w", err)
	}
	best, score := "", -1.0
	for _, s := range suggestions {
		if s.Folder != "" && s.Score > score {
			best, score = s.Folder, s.Score
		}
	}
	if best == "" {
		return r.cfg.DefaultDestination, nil
	}
	return best, nil
}

func (r *Runner) allowedFolders(ctx context.Context) ([]string, error) {
	if r.wildcardIgnore() {
		return nil, nil
	}
	folders, err := r.files.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(folders))
	for _, folder := range folders {
		ignored := false
		for _, ig := range r.cfg.IgnoreFolders {
			if ig == "" {
				continue
			}
			if folder == ig || strings.HasPrefix(folder, ig+"/") {
				ignored = true
				break
			}
		}
		if !ignored {
			out = append(out, folder)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Runner) stepCleanup(ctx context.Context, p *pass) error {
	// The pass is final at this point; verify the destination holds a
	// real file before declaring the record done.
	exists, err := r.files.Exists(ctx, p.path)
	if err != nil {
		return fmt.Errorf("verify destination: %w", err)
	}
	if !exists {
		return fmt.Errorf("destination vanished: %s", p.path)
	}
	return nil
}

func baseName(filePath string) string {
	base := path.Base(filePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

func topTitle(suggestions []domain.TitleSuggestion) string {
	best, score := "", -1.0
	for _, s := range suggestions {
		if s.Title != "" && s.Score > score {
			best, score = s.Title, s.Score
		}
	}
	return best
}

// sanitizeName strips characters the filesystem or the vault linker
// cannot handle and bounds the length.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '#', '^', '[', ']':
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, ". ")
	if runes := []rune(name); len(runes) > 120 {
		name = strings.TrimSpace(string(runes[:120]))
	}
	return name
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
	tag = strings.ReplaceAll(tag, " ", "-")
	return strings.ToLower(tag)
}

func frontmatterTags(fm map[string]any) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(strings.TrimPrefix(t, "#"), tag) {
			return true
		}
	}
	return false
}

func inlineTagPresent(content, tag string) bool {
	return strings.Contains(strings.ToLower(content), "#"+strings.ToLower(tag))
}
