package personalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/aiclient"
)

// Content is the outreach message produced for one lead.
type Content struct {
	Subject    string
	Body       string
	Mode       model.PersonalizationMode
	Unresolved []string
}

// Meter receives token usage per AI request. Satisfied by the usage ledger.
type Meter interface {
	RecordAI(inputTokens, outputTokens int64)
}

// Personalizer renders outreach content from a template, optionally
// adapting it with an AI pass. An AI failure never fails the lead: the
// rendered template content is used and the lead is marked fallback.
type Personalizer struct {
	ai        aiclient.Client
	model     string
	maxTokens int64
	meter     Meter
	log       *zap.Logger
}

// Option configures a Personalizer.
type Option func(*Personalizer)

// WithMeter registers a usage meter for AI requests.
func WithMeter(m Meter) Option {
	return func(p *Personalizer) { p.meter = m }
}

// WithMaxTokens overrides the AI response token cap (default 1024).
func WithMaxTokens(n int64) Option {
	return func(p *Personalizer) { p.maxTokens = n }
}

// New creates a Personalizer. The AI client may be nil when personalization
// runs in template-only mode.
func New(ai aiclient.Client, aiModel string, opts ...Option) *Personalizer {
	p := &Personalizer{
		ai:        ai,
		model:     aiModel,
		maxTokens: 1024,
		log:       zap.L().With(zap.String("component", "personalize")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Personalize produces the outreach content for a lead. With useAI false
// (or no AI client configured) the result is the rendered template. With
// useAI true, an AI pass adapts the rendered body per the template's
// instructions; on AI failure the rendered content is returned with
// Mode=fallback.
func (p *Personalizer) Personalize(ctx context.Context, lead *model.Lead, tmpl *model.Template, profile *model.CompanyProfile, useAI bool) (*Content, error) {
	vars := Vars(lead, profile)
	subject, unresolvedSubj := Render(tmpl.Subject, vars)
	body, unresolvedBody := Render(tmpl.Body, vars)
	unresolved := append(unresolvedSubj, unresolvedBody...)

	content := &Content{
		Subject:    subject,
		Body:       body,
		Mode:       model.PersonalizationTemplate,
		Unresolved: unresolved,
	}

	if !useAI || p.ai == nil {
		return content, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	adapted, err := p.adapt(ctx, lead, tmpl, profile, body)
	if err != nil {
		p.log.Warn("ai personalization failed, using template content",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		content.Mode = model.PersonalizationFallback
		return content, nil
	}

	content.Body = adapted
	content.Mode = model.PersonalizationAI
	return content, nil
}

const systemPrompt = `You are an outreach copywriter. Rewrite the draft email for the specific
recipient using the lead details provided. Keep it short, specific, and
professional. Return only the rewritten email body, no preamble.`

func (p *Personalizer) adapt(ctx context.Context, lead *model.Lead, tmpl *model.Template, profile *model.CompanyProfile, draft string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lead: %s at %s", orDash(lead.Name), orDash(lead.Company))
	if lead.Industry != "" {
		fmt.Fprintf(&sb, " (industry: %s)", lead.Industry)
	}
	if lead.Location != "" {
		fmt.Fprintf(&sb, ", %s", lead.Location)
	}
	sb.WriteString("\n")
	if desc := lead.EnrichedValue("description"); desc != "" {
		fmt.Fprintf(&sb, "About the company: %s\n", desc)
	}
	if profile != nil && profile.Description != "" {
		fmt.Fprintf(&sb, "Sender company: %s — %s\n", profile.Name, profile.Description)
	}
	if tmpl.Instructions != "" {
		fmt.Fprintf(&sb, "Instructions: %s\n", tmpl.Instructions)
	}
	fmt.Fprintf(&sb, "\nDraft email:\n%s", draft)

	resp, err := p.ai.CreateMessage(ctx, aiclient.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    systemPrompt,
		Messages: []aiclient.Message{
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", err
	}

	if p.meter != nil {
		p.meter.RecordAI(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	resp.Usage.LogUsage(p.model, "personalize")

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", eris.New("personalize: empty ai response")
	}
	return text, nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
