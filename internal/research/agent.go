// Package research runs the search -> extract -> synthesize -> validate loop
// that enriches a topic or company with web data.
package research

import (
	"context"
	"errors"
	"fmt"

	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"github.com/samsaffron/enrich/internal/scrape"
	"github.com/samsaffron/enrich/internal/search"
	"github.com/samsaffron/enrich/internal/sheet"
	"github.com/samsaffron/enrich/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxSteps bounds the number of node executions in one run.
const DefaultMaxSteps = 100

// ErrStepLimit is returned when a run exceeds its step budget.
var ErrStepLimit = errors.New("research step limit reached")

// Fetcher downloads a page as text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (scrape.Page, error)
}

// Saver persists a finished result for one company.
type Saver interface {
	Save(path, company string, res sheet.Result, schema map[string]any) (string, error)
}

// Options tunes an Agent. Zero values take defaults.
type Options struct {
	MaxLoops         int // total refinement passes; default 1
	MaxSearchResults int // default 5
	Concurrency      int // parallel page extractions; default 5
	MaxSteps         int // default DefaultMaxSteps
	Model            string
	Temperature      *float64

	// ReadQuestions loads a questions workbook; default sheet.ReadQuestions.
	ReadQuestions func(path string) ([]sheet.QuestionRow, error)
	// OnMessage is called for every message recorded during a run.
	OnMessage func(Message)
}

// Agent wires the research graph to its services.
type Agent struct {
	searcher search.Searcher
	fetcher  Fetcher
	provider llm.Provider
	prompts  *prompt.Manager
	saver    Saver
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewAgent(searcher search.Searcher, fetcher Fetcher, provider llm.Provider, prompts *prompt.Manager, saver Saver, opts Options, logger *zap.Logger) *Agent {
	if opts.MaxLoops < 1 {
		opts.MaxLoops = 1
	}
	if opts.MaxSearchResults < 1 {
		opts.MaxSearchResults = 5
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 5
	}
	if opts.MaxSteps < 1 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.ReadQuestions == nil {
		opts.ReadQuestions = sheet.ReadQuestions
	}
	if prompts == nil {
		prompts = prompt.MustDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		searcher: searcher,
		fetcher:  fetcher,
		provider: provider,
		prompts:  prompts,
		saver:    saver,
		opts:     opts,
		logger:   logger,
		tracer:   telemetry.Tracer("github.com/samsaffron/enrich/internal/research"),
	}
}

type node string

const (
	nodeSchema     node = "schema"
	nodeSearch     node = "search"
	nodeExtract    node = "extract"
	nodeSynthesize node = "synthesize"
	nodeValidate   node = "validate"
	nodeSave       node = "save"
	nodeEnd        node = "end"
)

// Run executes the graph from the entry node until it ends. The returned state
// is valid even when err is non-nil and holds everything recorded so far.
func (a *Agent) Run(ctx context.Context, st State) (State, error) {
	if st.ExtractedInfo == nil {
		st.ExtractedInfo = map[string]string{}
	}
	if st.Topic == "" {
		return st, errors.New("research topic is required")
	}

	ctx, span := a.tracer.Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("research.topic", st.Topic),
		attribute.String("research.company", st.Company),
		attribute.Int("research.max_loops", a.opts.MaxLoops),
	))
	defer span.End()

	current := nodeSearch
	if st.InputExcel != "" {
		current = nodeSchema
	}

	for steps := 0; current != nodeEnd; steps++ {
		if steps >= a.opts.MaxSteps {
			span.SetStatus(codes.Error, ErrStepLimit.Error())
			return st, ErrStepLimit
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}

		before := len(st.Messages)
		if err := a.runNode(ctx, current, &st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return st, fmt.Errorf("%s: %w", current, err)
		}
		if a.opts.OnMessage != nil {
			for _, m := range st.Messages[before:] {
				a.opts.OnMessage(m)
			}
		}
		current = a.next(current, &st)
	}

	span.SetAttributes(
		attribute.Int("research.loops", st.LoopCount),
		attribute.Bool("research.satisfactory", st.IsSatisfactory),
	)
	return st, nil
}

func (a *Agent) runNode(ctx context.Context, n node, st *State) error {
	ctx, span := a.tracer.Start(ctx, "research."+string(n))
	defer span.End()

	a.logger.Debug("research node", zap.String("node", string(n)), zap.String("topic", st.Topic), zap.Int("loop", st.LoopCount))

	var err error
	switch n {
	case nodeSchema:
		err = a.buildSchema(st)
	case nodeSearch:
		err = a.searchURLs(ctx, st)
	case nodeExtract:
		err = a.extractInfo(ctx, st)
	case nodeSynthesize:
		err = a.synthesize(ctx, st)
	case nodeValidate:
		err = a.validate(ctx, st)
	case nodeSave:
		err = a.save(st)
	default:
		err = fmt.Errorf("unknown node %q", n)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// next is the graph's edge table.
func (a *Agent) next(n node, st *State) node {
	switch n {
	case nodeSchema:
		return nodeSearch
	case nodeSearch:
		return nodeExtract
	case nodeExtract:
		return nodeSynthesize
	case nodeSynthesize:
		return nodeValidate
	case nodeValidate:
		if a.route(st) == nodeSearch {
			return nodeSearch
		}
		if st.OutputExcel != "" {
			return nodeSave
		}
		return nodeEnd
	default:
		return nodeEnd
	}
}

// route ends the loop once the result is satisfactory or the loop budget is spent.
func (a *Agent) route(st *State) node {
	if st.IsSatisfactory || st.LoopCount >= a.opts.MaxLoops {
		return nodeEnd
	}
	return nodeSearch
}

func (a *Agent) request(text string) llm.Request {
	return llm.Request{
		Model:       a.opts.Model,
		Messages:    []llm.Message{llm.UserText(text)},
		Temperature: a.opts.Temperature,
	}
}
