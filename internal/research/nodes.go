package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"github.com/samsaffron/enrich/internal/search"
	"github.com/samsaffron/enrich/internal/sheet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (a *Agent) buildSchema(st *State) error {
	rows, err := a.opts.ReadQuestions(st.InputExcel)
	if err != nil {
		return err
	}
	schema, err := sheet.SchemaJSON(sheet.GenerateSchema(rows))
	if err != nil {
		return err
	}
	st.ExtractionSchema = schema
	st.record(string(nodeSchema), "Structure of initial JSON completed.")
	return nil
}

func (a *Agent) searchURLs(ctx context.Context, st *State) error {
	results, err := a.searcher.Search(ctx, st.Topic, a.opts.MaxSearchResults)
	if err != nil {
		return err
	}
	results = search.FilterDocuments(results)

	st.URLs = make([]string, 0, len(results))
	for _, r := range results {
		st.URLs = append(st.URLs, r.URL)
	}
	a.logger.Info("search completed", zap.String("topic", st.Topic), zap.Int("urls", len(st.URLs)))
	st.record(string(nodeSearch), "Search completed. URLs extracted.")
	return nil
}

type extraction struct {
	url   string
	notes string
	err   error
}

// extractInfo summarizes every URL concurrently. A failing page is reported
// as a message and left out of ExtractedInfo.
func (a *Agent) extractInfo(ctx context.Context, st *State) error {
	if len(st.URLs) == 0 {
		st.record(string(nodeExtract), "No valid URLs found.")
		return nil
	}

	results := make([]extraction, len(st.URLs))
	topic := st.Topic

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, url := range st.URLs {
		g.Go(func() error {
			notes, err := a.extractNotes(gctx, topic, url)
			results[i] = extraction{url: url, notes: notes, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, r := range results {
		if r.err != nil {
			a.logger.Warn("page extraction failed", zap.String("url", r.url), zap.Error(r.err))
			st.record(string(nodeExtract), "Failed to extract info from %s: %v", r.url, r.err)
			continue
		}
		st.ExtractedInfo[r.url] = r.notes
		st.record(string(nodeExtract), "Extracted info from %s:\n%s", r.url, r.notes)
	}
	return nil
}

func (a *Agent) extractNotes(ctx context.Context, topic, url string) (string, error) {
	page, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(page.Text) == "" {
		return "", fmt.Errorf("page %s has no text", url)
	}

	text, err := a.prompts.Render(prompt.ExtractInfo, prompt.ExtractInfoData{
		Topic:   topic,
		URL:     url,
		Content: page.Text,
	})
	if err != nil {
		return "", err
	}

	var info WebInfo
	if err := llm.Generate(ctx, a.provider, a.request(text), webInfoTool(), &info); err != nil {
		return "", err
	}
	return info.Notes, nil
}

func (a *Agent) synthesize(ctx context.Context, st *State) error {
	if len(st.ExtractedInfo) == 0 {
		st.record(string(nodeSynthesize), "No extracted information to synthesize.")
		return nil
	}

	extracted, err := json.MarshalIndent(st.ExtractedInfo, "", "  ")
	if err != nil {
		return fmt.Errorf("encode extracted info: %w", err)
	}
	var previous string
	if st.PreviousInfo != nil {
		data, err := json.MarshalIndent(st.PreviousInfo, "", "  ")
		if err != nil {
			return fmt.Errorf("encode previous info: %w", err)
		}
		previous = string(data)
	}

	schema := parseSchema(st.ExtractionSchema)
	schemaText := ""
	if schema != nil {
		schemaText = st.ExtractionSchema
	}

	text, err := a.prompts.Render(prompt.Synthesize, prompt.SynthesizeData{
		Topic:            st.Topic,
		ExtractedInfo:    string(extracted),
		PreviousInfo:     previous,
		ExtractionSchema: schemaText,
	})
	if err != nil {
		return err
	}

	var info SynthesizedInfo
	if err := llm.Generate(ctx, a.provider, a.request(text), synthesisTool(schema), &info); err != nil {
		return err
	}
	if schema == nil {
		info.Data = nil
	}
	st.SynthesizedInfo = &info
	st.record(string(nodeSynthesize), "Synthesis completed.")
	return nil
}

func (a *Agent) validate(ctx context.Context, st *State) error {
	if st.SynthesizedInfo == nil {
		st.record(string(nodeValidate), "No synthesized information to validate.")
		return nil
	}

	text, err := a.prompts.Render(prompt.Validate, prompt.ValidateData{
		Topic:           st.Topic,
		SynthesizedInfo: st.SynthesisJSON(),
	})
	if err != nil {
		return err
	}

	var v Validation
	if err := llm.Generate(ctx, a.provider, a.request(text), validationTool(), &v); err != nil {
		return err
	}
	st.Validation = &v
	st.IsSatisfactory = v.IsSatisfactory

	if v.IsSatisfactory {
		a.logger.Info("research finished", zap.String("topic", st.Topic), zap.Int("loop", st.LoopCount))
		st.record(string(nodeValidate), "Research finished")
		return nil
	}

	if st.LoopCount >= a.opts.MaxLoops {
		st.record(string(nodeValidate), "Loop limit reached.")
		return nil
	}
	if topic := strings.TrimSpace(v.NewTopic); topic != "" {
		st.Topic = topic
	}
	st.LoopCount++
	st.PreviousInfo = st.SynthesizedInfo
	a.logger.Info("research refined", zap.String("topic", st.Topic), zap.Int("loop", st.LoopCount))
	st.record(string(nodeValidate), "New topic generated: %s. Restarting search.", st.Topic)
	return nil
}

func (a *Agent) save(st *State) error {
	if st.SynthesizedInfo == nil {
		st.record(string(nodeSave), "No synthesized information to save.")
		return nil
	}
	if a.saver == nil {
		return fmt.Errorf("no saver configured for %s", st.OutputExcel)
	}
	company := st.Company
	if company == "" {
		company = st.Topic
	}
	res := sheet.Result{
		Summary:       st.SynthesizedInfo.Summary,
		Justification: st.SynthesizedInfo.Justification,
		References:    st.SynthesizedInfo.References,
		Data:          st.SynthesizedInfo.Data,
	}
	if _, err := a.saver.Save(st.OutputExcel, company, res, parseSchema(st.ExtractionSchema)); err != nil {
		return err
	}
	st.record(string(nodeSave), "Saved extracted information to %s", st.OutputExcel)
	return nil
}
