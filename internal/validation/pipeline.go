// Package validation runs the structural checks a repository must pass
// before it can be installed.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/logger"
	"github.com/vrsandeep/repokeep/internal/models"
)

// ErrValidationFailed is returned when one or more checks fail.
var ErrValidationFailed = errors.New("validation failed")

// Target is the metadata snapshot checks inspect.
type Target struct {
	Repository *models.Repository
	Tree       []string
	Releases   []hosting.Release
	// ManifestData is the raw repository manifest, nil when absent.
	ManifestData []byte
	Automated    bool
	// Fetch reads a file from the repository at the refreshed ref.
	Fetch func(ctx context.Context, path string) ([]byte, error)
}

// Check is one validation rule. A nil error from Run means it passed.
type Check struct {
	ID string
	// Categories limits the check; empty applies to every category.
	Categories    []models.Category
	AutomatedOnly bool
	Run           func(ctx context.Context, t *Target) error
}

func (c Check) appliesTo(category models.Category, automated bool) bool {
	if c.AutomatedOnly && !automated {
		return false
	}
	if len(c.Categories) == 0 {
		return true
	}
	for _, cat := range c.Categories {
		if cat == category {
			return true
		}
	}
	return false
}

// Registry holds the checks. It is filled at startup and becomes read-only
// once the first pipeline run seals it.
type Registry struct {
	mu     sync.RWMutex
	checks []Check
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check. It fails once the registry is sealed or when the
// id is already taken.
func (r *Registry) Register(c Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("validation registry is sealed, cannot add %q", c.ID)
	}
	if c.ID == "" || c.Run == nil {
		return fmt.Errorf("check needs an id and a run function")
	}
	for _, existing := range r.checks {
		if existing.ID == c.ID {
			return fmt.Errorf("check %q already registered", c.ID)
		}
	}
	r.checks = append(r.checks, c)
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Checks returns the registered checks in registration order.
func (r *Registry) Checks() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Check, len(r.checks))
	copy(out, r.checks)
	return out
}

// Result is the outcome of one check.
type Result struct {
	Check  string `json:"check"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Report collects the results of one pipeline run.
type Report struct {
	Results []Result `json:"results"`
	Failed  int      `json:"failed"`
}

// Passed reports whether every applicable check passed.
func (r Report) Passed() bool { return r.Failed == 0 }

// Summary renders the "N/M checks failed" line.
func (r Report) Summary() string {
	return fmt.Sprintf("%d/%d checks failed", r.Failed, len(r.Results))
}

// Pipeline runs the registered checks against a target.
type Pipeline struct {
	registry  *Registry
	automated bool
	log       *log.Logger
}

// NewPipeline creates a pipeline. In automated mode failures are returned
// as errors; otherwise they are logged and only block installation.
func NewPipeline(registry *Registry, automated bool, l *log.Logger) *Pipeline {
	return &Pipeline{registry: registry, automated: automated, log: logger.Component(l, "validation")}
}

// Automated reports whether the pipeline runs in CI mode.
func (p *Pipeline) Automated() bool { return p.automated }

// Run executes every applicable check concurrently.
func (p *Pipeline) Run(ctx context.Context, t *Target) (Report, error) {
	p.registry.Seal()
	t.Automated = p.automated

	var applicable []Check
	for _, c := range p.registry.Checks() {
		if c.appliesTo(t.Repository.Category, p.automated) {
			applicable = append(applicable, c)
		}
	}

	results := make([]Result, len(applicable))
	var wg sync.WaitGroup
	for i, c := range applicable {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = runCheck(ctx, c, t)
		}(i, c)
	}
	wg.Wait()

	report := Report{Results: results}
	for _, r := range results {
		if !r.Passed {
			report.Failed++
			p.log.Error("Check failed", "repository", t.Repository.FullName, "check", r.Check, "reason", r.Reason)
		}
	}
	if report.Failed == 0 {
		p.log.Debug("All checks passed", "repository", t.Repository.FullName, "checks", len(results))
		return report, nil
	}
	if p.automated {
		return report, fmt.Errorf("%w: %s", ErrValidationFailed, report.Summary())
	}
	return report, nil
}

func runCheck(ctx context.Context, c Check, t *Target) (res Result) {
	res = Result{Check: c.ID}
	defer func() {
		if r := recover(); r != nil {
			res.Passed = false
			res.Reason = fmt.Sprintf("check panicked: %v", r)
		}
	}()
	if err := c.Run(ctx, t); err != nil {
		res.Reason = err.Error()
		return res
	}
	res.Passed = true
	return res
}
