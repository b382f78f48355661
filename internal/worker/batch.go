package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/beplan/internal/model"
)

// Planner plans one protocol. Satisfied by the pipeline.
type Planner interface {
	Plan(ctx context.Context, req model.PlanRequest) (*model.FullReport, error)
}

// PlanJob runs one INN through the planner.
type PlanJob struct {
	Request model.PlanRequest
	Planner Planner
}

func (j *PlanJob) Execute(ctx context.Context) Result {
	report, err := j.Planner.Plan(ctx, j.Request)
	return &PlanResult{INN: j.Request.INN, Report: report, Error: err}
}

// PlanResult is the outcome of one batch entry.
type PlanResult struct {
	INN    string
	Report *model.FullReport
	Error  error
}

func (r *PlanResult) GetError() error { return r.Error }

// BatchProcessor plans protocols for several INNs concurrently. Each
// entry reuses the base request with only the INN substituted.
type BatchProcessor struct {
	planner     Planner
	concurrency int
}

func NewBatchProcessor(planner Planner, concurrency int) *BatchProcessor {
	return &BatchProcessor{planner: planner, concurrency: concurrency}
}

func (b *BatchProcessor) ProcessINNs(ctx context.Context, base model.PlanRequest, inns []string) []*PlanResult {
	if len(inns) == 0 {
		return []*PlanResult{}
	}

	pool := NewPool(b.concurrency)
	pool.Start()

	for _, inn := range inns {
		req := base
		req.INN = inn
		pool.Submit(&PlanJob{Request: req, Planner: b.planner})
	}

	results := pool.Wait()
	planResults := make([]*PlanResult, len(results))
	for i, result := range results {
		planResults[i] = result.(*PlanResult)
	}
	return planResults
}

// ProcessFile reads INNs from a file (one per line) and plans each.
func (b *BatchProcessor) ProcessFile(ctx context.Context, base model.PlanRequest, filePath string) ([]*PlanResult, error) {
	inns, err := ReadINNsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read INNs: %w", err)
	}
	return b.ProcessINNs(ctx, base, inns), nil
}

// ReadINNsFromFile reads one INN per line, skipping blanks, comments,
// and duplicates.
func ReadINNsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var inns []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key := strings.ToLower(line)
		if !seen[key] {
			seen[key] = true
			inns = append(inns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return inns, nil
}
