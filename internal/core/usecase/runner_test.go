package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

type fileStoreFake struct {
	mu       sync.Mutex
	texts    map[string]string
	binaries map[string][]byte
	folders  []string
	tags     []string
	front    map[string]map[string]any
	moves    []string
}

func newFileStoreFake() *fileStoreFake {
	return &fileStoreFake{
		texts:    make(map[string]string),
		binaries: make(map[string][]byte),
		front:    make(map[string]map[string]any),
	}
}

func (f *fileStoreFake) ReadText(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.texts[path]
	if !ok {
		return "", fmt.Errorf("not found: %s", path)
	}
	return text, nil
}

func (f *fileStoreFake) ReadBinary(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.binaries[path]; ok {
		return data, nil
	}
	if text, ok := f.texts[path]; ok {
		return []byte(text), nil
	}
	return nil, fmt.Errorf("not found: %s", path)
}

func (f *fileStoreFake) Write(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[path] = content
	return nil
}

func (f *fileStoreFake) Append(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[path] += content
	return nil
}

func (f *fileStoreFake) Create(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.texts[path]; ok {
		return fmt.Errorf("already exists: %s", path)
	}
	f.texts[path] = content
	return nil
}

func (f *fileStoreFake) Move(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, oldPath+" -> "+newPath)
	if fm, ok := f.front[oldPath]; ok {
		delete(f.front, oldPath)
		f.front[newPath] = fm
	}
	if text, ok := f.texts[oldPath]; ok {
		delete(f.texts, oldPath)
		f.texts[newPath] = text
		return nil
	}
	if data, ok := f.binaries[oldPath]; ok {
		delete(f.binaries, oldPath)
		f.binaries[newPath] = data
		return nil
	}
	return fmt.Errorf("not found: %s", oldPath)
}

func (f *fileStoreFake) Copy(_ context.Context, srcPath, dstPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[dstPath] = f.texts[srcPath]
	return nil
}

func (f *fileStoreFake) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.texts, path)
	delete(f.binaries, path)
	return nil
}

func (f *fileStoreFake) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.texts[path]; ok {
		return true, nil
	}
	_, ok := f.binaries[path]
	return ok, nil
}

func (f *fileStoreFake) ListFolders(context.Context) ([]string, error) { return f.folders, nil }

func (f *fileStoreFake) ListFiles(_ context.Context, folder string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for path := range f.texts {
		if strings.HasPrefix(path, folder+"/") {
			out = append(out, path)
		}
	}
	return out, nil
}

func (f *fileStoreFake) ListTags(context.Context) ([]string, error) { return f.tags, nil }

func (f *fileStoreFake) ReadFrontmatter(_ context.Context, path string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fm, ok := f.front[path]; ok {
		return fm, nil
	}
	return map[string]any{}, nil
}

func (f *fileStoreFake) WriteFrontmatterKey(_ context.Context, path, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.front[path]; !ok {
		f.front[path] = make(map[string]any)
	}
	f.front[path][key] = value
	return nil
}

type aiFake struct {
	mu          sync.Mutex
	calls       []string
	label       string
	classifyErr error
	formatted   string
	formatErr   error
	tagSugs     []domain.TagSuggestion
	titleSugs   []domain.TitleSuggestion
	folderSugs  []domain.FolderSuggestion
	folderErr   error
	visionText  string
	transcript  string
}

func (f *aiFake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *aiFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *aiFake) Classify(context.Context, string, []string) (string, error) {
	f.record("classify")
	if f.classifyErr != nil {
		return "", f.classifyErr
	}
	return f.label, nil
}

func (f *aiFake) Format(context.Context, string, string) (string, error) {
	f.record("format")
	if f.formatErr != nil {
		return "", f.formatErr
	}
	return f.formatted, nil
}

func (f *aiFake) FormatStream(ctx context.Context, _, _ string, handler ports.StreamHandler) (string, error) {
	f.record("format_stream")
	if f.formatErr != nil {
		return "", f.formatErr
	}
	cumulative := ""
	for _, chunk := range strings.SplitAfter(f.formatted, " ") {
		cumulative += chunk
		if err := handler(ctx, cumulative); err != nil {
			return cumulative, err
		}
	}
	return f.formatted, nil
}

func (f *aiFake) SuggestTags(context.Context, string, string, []string) ([]domain.TagSuggestion, error) {
	f.record("tags")
	return f.tagSugs, nil
}

func (f *aiFake) SuggestTitle(context.Context, string, string, string) ([]domain.TitleSuggestion, error) {
	f.record("title")
	return f.titleSugs, nil
}

func (f *aiFake) SuggestFolders(context.Context, string, string, []string) ([]domain.FolderSuggestion, error) {
	f.record("folders")
	if f.folderErr != nil {
		return nil, f.folderErr
	}
	return f.folderSugs, nil
}

func (f *aiFake) ExtractImageText(context.Context, []byte) (string, error) {
	f.record("vision")
	return f.visionText, nil
}

func (f *aiFake) Transcribe(ctx context.Context, _ []byte, _ string, handler ports.StreamHandler) (string, error) {
	f.record("transcribe")
	if handler != nil {
		if err := handler(ctx, f.transcript); err != nil {
			return "", err
		}
	}
	return f.transcript, nil
}

type templatesFake struct {
	templates []domain.Template
	err       error
}

func (f *templatesFake) ListTemplates(context.Context) ([]domain.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.templates, nil
}

type textExtractorFake struct {
	kind  domain.FileKind
	files ports.FileStore
	err   error
}

func (f *textExtractorFake) Kind() domain.FileKind { return f.kind }

func (f *textExtractorFake) Extract(ctx context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.files.ReadText(ctx, path)
}

type visionExtractorFake struct {
	ai *aiFake
}

func (f *visionExtractorFake) Kind() domain.FileKind { return domain.KindImage }

func (f *visionExtractorFake) Extract(ctx context.Context, string2 string) (string, error) {
	return f.ai.ExtractImageText(ctx, nil)
}

func testRunner(t *testing.T, cfg RunnerConfig, files *fileStoreFake, ai *aiFake, templates ports.TemplateSource) (*Runner, *RecordManager, *Queue) {
	t.Helper()
	queue := NewQueue()
	records := NewRecordManager(newRecordStoreFake(), nil)
	if templates == nil {
		templates = &templatesFake{}
	}
	extractors := []ports.Extractor{
		&textExtractorFake{kind: domain.KindMarkdown, files: files},
		&visionExtractorFake{ai: ai},
	}
	runner := NewRunner(cfg, queue, records, ai, files, templates, extractors, nil, nil)
	return runner, records, queue
}

func defaultCfg() RunnerConfig {
	return RunnerConfig{
		DefaultDestination: "notes",
		AttachmentsFolder:  "attachments",
		TagScoreThreshold:  0.6,
		ClassifyEnabled:    true,
		RenameEnabled:      true,
		MaxAttempts:        3,
	}
}

func TestRunnerCompletesMarkdownNote(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/raw.md"] = "meeting notes about the quarterly roadmap"
	files.folders = []string{"notes", "projects"}
	files.tags = []string{"work"}

	ai := &aiFake{
		label:     "meeting",
		formatted: "# Roadmap Meeting\n\nformatted body",
		tagSugs: []domain.TagSuggestion{
			{Tag: "roadmap", Score: 0.9},
			{Tag: "noise", Score: 0.2},
		},
		titleSugs:  []domain.TitleSuggestion{{Title: "Quarterly Roadmap Sync", Score: 0.95}},
		folderSugs: []domain.FolderSuggestion{{Folder: "projects", Score: 0.8}, {Folder: "notes", Score: 0.4}},
	}
	templates := &templatesFake{templates: []domain.Template{{Name: "meeting", Instruction: "format as meeting notes"}}}

	runner, records, queue := testRunner(t, defaultCfg(), files, ai, templates)
	queue.Enqueue("inbox/raw.md")
	if !runner.ProcessNext(context.Background()) {
		t.Fatalf("expected work")
	}

	rec, ok := records.GetByPath("projects/Quarterly Roadmap Sync.md")
	if !ok {
		t.Fatalf("record not found at destination; records: %+v", records.GetAllFiles())
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %+v)", rec.Status, rec.Error)
	}
	for _, action := range domain.Sequence(false) {
		entry, ok := rec.Logs[action]
		if !ok || !entry.Completed {
			t.Fatalf("action %s not completed: %+v", action, entry)
		}
	}
	if rec.Classification != "meeting" {
		t.Fatalf("classification = %q", rec.Classification)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "roadmap" {
		t.Fatalf("tags = %v, want only above-threshold roadmap", rec.Tags)
	}
	if rec.NewPath != "projects/Quarterly Roadmap Sync.md" {
		t.Fatalf("newPath = %q", rec.NewPath)
	}
	if got := files.texts["projects/Quarterly Roadmap Sync.md"]; got != ai.formatted {
		t.Fatalf("destination content = %q", got)
	}
}

func TestRunnerEmptyContentIsBypassedBeforeClassify(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/empty.md"] = "   \n"
	ai := &aiFake{}

	runner, records, queue := testRunner(t, defaultCfg(), files, ai, nil)
	queue.Enqueue("inbox/empty.md")
	runner.ProcessNext(context.Background())

	rec, _ := records.GetByPath("inbox/empty.md")
	if rec.Status != domain.StatusBypassed {
		t.Fatalf("status = %s, want bypassed", rec.Status)
	}
	entry := rec.Logs[domain.ActionExtract]
	if !entry.Bypassed || entry.Reason != "empty content" {
		t.Fatalf("bypass entry = %+v", entry)
	}
	if _, ok := rec.Logs[domain.ActionClassify]; ok {
		t.Fatalf("must never reach classify")
	}
	if ai.callCount() != 0 {
		t.Fatalf("no AI calls expected, got %v", ai.calls)
	}
}

func TestRunnerImageCreatesContainerAndMovesAttachment(t *testing.T) {
	files := newFileStoreFake()
	files.binaries["inbox/shot.png"] = []byte{0x89, 0x50}
	files.folders = []string{"notes"}
	ai := &aiFake{
		visionText: "whiteboard sketch of the ingest flow",
		tagSugs:    []domain.TagSuggestion{{Tag: "sketches", Score: 0.95}},
		titleSugs:  []domain.TitleSuggestion{{Title: "Ingest Flow Sketch", Score: 0.9}},
		folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.7}},
	}

	cfg := defaultCfg()
	cfg.ClassifyEnabled = false
	runner, records, queue := testRunner(t, cfg, files, ai, nil)
	queue.Enqueue("inbox/shot.png")
	runner.ProcessNext(context.Background())

	rec, ok := records.GetByPath("notes/Ingest Flow Sketch.md")
	if !ok {
		t.Fatalf("container record not found; records: %+v", records.GetAllFiles())
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %+v)", rec.Status, rec.Error)
	}
	if entry := rec.Logs[domain.ActionMovingAttachment]; !entry.Completed {
		t.Fatalf("attachment stage not completed: %+v", entry)
	}
	if rec.NewPath == "" {
		t.Fatalf("newPath must be set")
	}

	var attachmentPath string
	for path := range files.binaries {
		attachmentPath = path
	}
	if !strings.HasPrefix(attachmentPath, "attachments/") || !strings.HasSuffix(attachmentPath, "-shot.png") {
		t.Fatalf("attachment at %q, want timestamp prefix under attachments/", attachmentPath)
	}
	container := files.texts["notes/Ingest Flow Sketch.md"]
	if !strings.Contains(container, "![["+attachmentPath+"]]") || !strings.Contains(container, ai.visionText) {
		t.Fatalf("container content = %q", container)
	}
	fm := files.front["notes/Ingest Flow Sketch.md"]
	tags, _ := fm["tags"].([]string)
	if len(tags) != 1 || tags[0] != "sketches" {
		t.Fatalf("container tags = %v, want [sketches]", fm["tags"])
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{`Plan: Q3 <draft>`, "Plan Q3 draft"},
		{"  spaced   out  name ", "spaced out name"},
		{"trailing dot.", "trailing dot"},
	}
	for _, tc := range cases {
		if got := sanitizeName(tc.in); got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("ё", 130)
	got := sanitizeName(long)
	if !utf8.ValidString(got) {
		t.Fatalf("long name truncated to invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 120 {
		t.Fatalf("rune count = %d, want 120", n)
	}
}

func TestRunnerTransientClassifyErrorRequeuesAtTail(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	files.texts["inbox/b.md"] = "content"
	ai := &aiFake{classifyErr: domain.WrapError(domain.ErrTemporary, "classify", errors.New("gateway timeout"))}
	templates := &templatesFake{templates: []domain.Template{{Name: "note", Instruction: "x"}}}

	runner, records, queue := testRunner(t, defaultCfg(), files, ai, templates)
	queue.EnqueueAll([]string{"inbox/a.md", "inbox/b.md"})
	runner.ProcessNext(context.Background())

	rec, _ := records.GetByPath("inbox/a.md")
	if rec.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", rec.Status)
	}
	if entry := rec.Logs[domain.ActionClassify]; entry.Completed || entry.Error == nil {
		t.Fatalf("classify entry = %+v", entry)
	}
	// Poison file went to the tail, b is next.
	next, ok := queue.DequeueNext()
	if !ok || next != "inbox/b.md" {
		t.Fatalf("next = %q, want inbox/b.md", next)
	}
}

func TestRunnerRetryBudgetStopsRequeueing(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	ai := &aiFake{classifyErr: domain.WrapError(domain.ErrTemporary, "classify", errors.New("down"))}
	templates := &templatesFake{templates: []domain.Template{{Name: "note", Instruction: "x"}}}

	cfg := defaultCfg()
	cfg.MaxAttempts = 2
	runner, records, queue := testRunner(t, cfg, files, ai, templates)
	queue.Enqueue("inbox/a.md")

	for runner.ProcessNext(context.Background()) {
	}
	rec, _ := records.GetByPath("inbox/a.md")
	if rec.Attempts != cfg.MaxAttempts {
		t.Fatalf("attempts = %d, want %d", rec.Attempts, cfg.MaxAttempts)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue must be drained after budget exhaustion")
	}
}

func TestRunnerContentErrorDoesNotRequeue(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	ai := &aiFake{classifyErr: errors.New("unparseable response")}
	templates := &templatesFake{templates: []domain.Template{{Name: "note", Instruction: "x"}}}

	runner, records, queue := testRunner(t, defaultCfg(), files, ai, templates)
	queue.Enqueue("inbox/a.md")
	runner.ProcessNext(context.Background())

	rec, _ := records.GetByPath("inbox/a.md")
	if rec.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", rec.Status)
	}
	if queue.Len() != 0 {
		t.Fatalf("non-transient failure must not requeue")
	}
}

func TestRunnerWildcardIgnoreBypassesEverythingWithoutAICalls(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	ai := &aiFake{}

	cfg := defaultCfg()
	cfg.IgnoreFolders = []string{"*"}
	runner, records, queue := testRunner(t, cfg, files, ai, nil)
	queue.Enqueue("inbox/a.md")
	runner.ProcessNext(context.Background())

	rec, _ := records.GetByPath("inbox/a.md")
	if rec.Status != domain.StatusBypassed {
		t.Fatalf("status = %s, want bypassed", rec.Status)
	}
	if rec.NewPath != "notes/a.md" {
		t.Fatalf("newPath = %q, want default destination assignment", rec.NewPath)
	}
	if ai.callCount() != 0 {
		t.Fatalf("no AI calls expected, got %v", ai.calls)
	}
}

func TestRunnerEmptyFolderSuggestionsFallBackToDefault(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	files.folders = []string{"notes", "projects"}
	ai := &aiFake{folderSugs: nil}

	cfg := defaultCfg()
	cfg.ClassifyEnabled = false
	cfg.RenameEnabled = false
	runner, records, queue := testRunner(t, cfg, files, ai, nil)
	queue.Enqueue("inbox/a.md")
	runner.ProcessNext(context.Background())

	rec, ok := records.GetByPath("notes/a.md")
	if !ok {
		t.Fatalf("record not at default destination; records: %+v", records.GetAllFiles())
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s (error: %+v)", rec.Status, rec.Error)
	}
	if rec.NewPath != "notes/a.md" {
		t.Fatalf("newPath = %q, want default folder", rec.NewPath)
	}
}

func TestRunnerRenameDisabledKeepsCurrentName(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/keep-name.md"] = "content"
	files.folders = []string{"notes"}
	ai := &aiFake{
		titleSugs:  []domain.TitleSuggestion{{Title: "Should Not Apply", Score: 1}},
		folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.9}},
	}

	cfg := defaultCfg()
	cfg.ClassifyEnabled = false
	cfg.RenameEnabled = false
	runner, records, queue := testRunner(t, cfg, files, ai, nil)
	queue.Enqueue("inbox/keep-name.md")
	runner.ProcessNext(context.Background())

	if _, ok := records.GetByPath("notes/keep-name.md"); !ok {
		t.Fatalf("file must keep its name; records: %+v", records.GetAllFiles())
	}
	for _, call := range ai.calls {
		if call == "title" {
			t.Fatalf("title suggestion must be skipped when renaming is disabled")
		}
	}
}

func TestRunnerVanishedFileIsSkippedSilently(t *testing.T) {
	files := newFileStoreFake()
	ai := &aiFake{}
	runner, records, queue := testRunner(t, defaultCfg(), files, ai, nil)
	queue.Enqueue("inbox/ghost.md")
	runner.ProcessNext(context.Background())

	rec, _ := records.GetByPath("inbox/ghost.md")
	if !rec.Missing {
		t.Fatalf("vanished file must be flagged missing")
	}
	if ai.callCount() != 0 {
		t.Fatalf("no AI calls for vanished files")
	}
}

func TestRunnerTwoIdenticalFilesStayIndependent(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/one.md"] = "same content"
	files.texts["inbox/two.md"] = "same content"
	files.folders = []string{"notes"}
	ai := &aiFake{
		tagSugs:    []domain.TagSuggestion{{Tag: "shared", Score: 0.9}},
		folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.9}},
		titleSugs:  []domain.TitleSuggestion{},
	}

	cfg := defaultCfg()
	cfg.ClassifyEnabled = false
	cfg.RenameEnabled = false
	runner, records, queue := testRunner(t, cfg, files, ai, nil)
	queue.EnqueueAll([]string{"inbox/one.md", "inbox/two.md"})
	for runner.ProcessNext(context.Background()) {
	}

	one, okOne := records.GetByPath("notes/one.md")
	two, okTwo := records.GetByPath("notes/two.md")
	if !okOne || !okTwo {
		t.Fatalf("both files must be processed; records: %+v", records.GetAllFiles())
	}
	if one.ID == two.ID {
		t.Fatalf("identical content must still yield distinct records")
	}
	analytics := records.GetAnalytics()
	if analytics.ByStatus[domain.StatusCompleted] != 2 || analytics.Total != 2 {
		t.Fatalf("analytics corrupted: %+v", analytics)
	}
}

func TestRunnerStreamedFormattingWritesIncrementally(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/raw.md"] = "rough draft"
	files.folders = []string{"notes"}
	ai := &aiFake{
		label:      "note",
		formatted:  "polished final text",
		folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.9}},
	}
	templates := &templatesFake{templates: []domain.Template{{Name: "note", Instruction: "polish"}}}

	cfg := defaultCfg()
	cfg.RenameEnabled = false
	runner, records, queue := testRunner(t, cfg, files, ai, templates)
	queue.Enqueue("inbox/raw.md")
	runner.ProcessNext(context.Background())

	rec, ok := records.GetByPath("notes/raw.md")
	if !ok || rec.Status != domain.StatusCompleted {
		t.Fatalf("record = %+v", rec)
	}
	if files.texts["notes/raw.md"] != "polished final text" {
		t.Fatalf("final content = %q", files.texts["notes/raw.md"])
	}
}
