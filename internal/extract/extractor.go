package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/leapstack-labs/leapgraph/internal/pipeline"
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"golang.org/x/sync/errgroup"
)

// DefaultDelay is the pause between two model calls of a template.
const DefaultDelay = 5 * time.Second

// RunRecorder persists extraction bookkeeping. core.Store implements it.
type RunRecorder interface {
	CreateExtractionRun(template string, executionNumber int) (*core.ExtractionRun, error)
	CompleteExtractionRun(id string, status core.RunStatus) error
	RecordExtractionResult(result *core.ExtractionResult) error
	HasSuccessfulExtraction(sqlHash, templateHash string) (bool, error)
}

// Config configures an Extractor.
type Config struct {
	Generator   llm.Generator
	OutputDir   string
	Delay       time.Duration
	Concurrency int
	Temperature float32
	Model       string
	// Store enables incremental extraction when set.
	Store RunRecorder
	// Force re-extracts pairs the store already has answers for.
	Force  bool
	Logger *slog.Logger
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// Extractor applies prompt templates to SQL files.
type Extractor struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	storeMu sync.Mutex
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Extractor{cfg: cfg, logger: cfg.Logger, now: now}
}

// TemplateRun summarizes one template's execution.
type TemplateRun struct {
	Template        string
	ExecutionNumber int
	Dir             string
	Saved           int
	Failed          int
	Skipped         int
	PromptTokens    int
	AnswerTokens    int
}

// Run applies every template to every SQL file. Per-file failures are
// recorded in the run metadata; only setup errors and cancellation abort.
func (e *Extractor) Run(ctx context.Context, templates []*Template, files []pipeline.SQLFile) ([]*TemplateRun, error) {
	if e.cfg.Generator == nil {
		return nil, fmt.Errorf("no generator configured")
	}

	runs := make([]*TemplateRun, len(templates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, t := range templates {
		g.Go(func() error {
			run, err := e.runTemplate(ctx, t, files)
			if err != nil {
				return fmt.Errorf("template %s: %w", t.Name, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

func (e *Extractor) pending(t *Template, files []pipeline.SQLFile) (todo []pipeline.SQLFile, skipped int, err error) {
	if e.cfg.Store == nil || e.cfg.Force {
		return files, 0, nil
	}
	for _, f := range files {
		e.storeMu.Lock()
		done, err := e.cfg.Store.HasSuccessfulExtraction(f.Hash, t.Hash)
		e.storeMu.Unlock()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to check extraction state: %w", err)
		}
		if done {
			skipped++
			continue
		}
		todo = append(todo, f)
	}
	return todo, skipped, nil
}

func (e *Extractor) runTemplate(ctx context.Context, t *Template, files []pipeline.SQLFile) (*TemplateRun, error) {
	logger := e.logger.With(slog.String("template", t.Name))

	todo, skipped, err := e.pending(t, files)
	if err != nil {
		return nil, err
	}
	run := &TemplateRun{Template: t.Name, Skipped: skipped}
	if len(todo) == 0 {
		logger.Info("nothing to extract", slog.Int("skipped", skipped))
		return run, nil
	}

	dir, n, err := NextExecutionDir(e.cfg.OutputDir, t.Name)
	if err != nil {
		return nil, err
	}
	run.Dir, run.ExecutionNumber = dir, n
	logger.Info("extracting", slog.Int("execution", n), slog.Int("files", len(todo)), slog.Int("skipped", skipped))

	var stored *core.ExtractionRun
	if e.cfg.Store != nil {
		e.storeMu.Lock()
		stored, err = e.cfg.Store.CreateExtractionRun(t.Name, n)
		e.storeMu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to record extraction run: %w", err)
		}
	}

	meta := RunMetadata{TemplateName: t.Name, ExecutionNumber: n}
	status := core.RunStatusCompleted
	for i, f := range todo {
		if i > 0 {
			if err := sleep(ctx, e.cfg.Delay); err != nil {
				status = core.RunStatusFailed
				break
			}
		}
		pm, result := e.extractOne(ctx, t, f, dir)
		meta.Prompts = append(meta.Prompts, pm)
		if pm.Usage != nil {
			run.PromptTokens += pm.Usage.QueryTokensUsed
			run.AnswerTokens += pm.Usage.AnswerTokensUsed
		}
		if pm.ResponseSummary.AnswerSaved {
			run.Saved++
		} else {
			run.Failed++
			logger.Warn("extraction failed", slog.String("sql", f.Name), slog.String("error", pm.ResponseSummary.Error))
		}

		if stored != nil {
			result.RunID = stored.ID
			e.storeMu.Lock()
			err := e.cfg.Store.RecordExtractionResult(result)
			e.storeMu.Unlock()
			if err != nil {
				logger.Warn("failed to record extraction result", slog.String("sql", f.Name), slog.String("error", err.Error()))
			}
		}
	}

	meta.RunTimestamp = e.now().Format(time.RFC3339Nano)
	if err := writeJSON(filepath.Join(dir, MetadataFile), meta); err != nil {
		return run, err
	}

	if stored != nil {
		e.storeMu.Lock()
		err := e.cfg.Store.CompleteExtractionRun(stored.ID, status)
		e.storeMu.Unlock()
		if err != nil {
			logger.Warn("failed to complete extraction run", slog.String("error", err.Error()))
		}
	}
	if status == core.RunStatusFailed {
		return run, ctx.Err()
	}
	return run, nil
}

func (e *Extractor) extractOne(ctx context.Context, t *Template, f pipeline.SQLFile, dir string) (PromptMetadata, *core.ExtractionResult) {
	stem := f.Stem()
	ts := fileTimestamp(e.now())
	prompt := t.Render(f.Content)

	pm := PromptMetadata{PromptDetails: PromptDetails{
		SQLFileName: stem,
		Timestamp:   ts,
		PromptHash:  llm.PromptHash(prompt),
	}}
	result := &core.ExtractionResult{
		SQLFile:      f.Name,
		SQLHash:      f.Hash,
		TemplateHash: t.Hash,
		Status:       core.RunStatusFailed,
	}
	fail := func(err error) (PromptMetadata, *core.ExtractionResult) {
		pm.ResponseSummary.Error = err.Error()
		result.Error = err.Error()
		return pm, result
	}

	resp, err := e.cfg.Generator.Generate(ctx, prompt, llm.Options{
		Temperature: llm.Temperature(e.cfg.Temperature),
		Model:       e.cfg.Model,
	})
	if resp != nil {
		pm.ModelUsed = resp.Model
		pm.Usage = &Usage{QueryTokensUsed: resp.PromptTokens, AnswerTokensUsed: resp.AnswerTokens}
		result.PromptTokens, result.AnswerTokens = resp.PromptTokens, resp.AnswerTokens
	}
	if err != nil {
		if resp != nil && resp.Text != "" {
			_ = os.WriteFile(filepath.Join(dir, "answer_"+stem+"_"+ts+".raw.txt"), []byte(resp.Text), 0o600)
		}
		return fail(err)
	}

	body := llm.StripCodeFences(resp.Text)
	if _, err := core.ParseDocument([]byte(body)); err != nil {
		_ = os.WriteFile(filepath.Join(dir, "answer_"+stem+"_"+ts+".raw.txt"), []byte(resp.Text), 0o600)
		return fail(fmt.Errorf("answer is not a lineage document: %w", err))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(body), "", "    "); err != nil {
		return fail(err)
	}
	answerFile := "answer_" + stem + "_" + ts + ".json"
	if err := os.WriteFile(filepath.Join(dir, answerFile), pretty.Bytes(), 0o600); err != nil {
		return fail(fmt.Errorf("failed to save answer: %w", err))
	}

	pm.ResponseSummary.AnswerSaved = true
	pm.ResponseSummary.AnswerFile = answerFile
	result.AnswerFile = filepath.Join(dir, answerFile)
	result.Status = core.RunStatusCompleted
	return pm, result
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
