package prompt

import (
	"strings"
)

// Persona is the fixed description of the assistant sent with every request
const Persona = `You are EcoBot, the AI assistant of a waste management platform. You help residents and businesses with:
- sorting and segregating waste (wet, dry, hazardous, e-waste) and finding the right disposal method
- recycling, composting and reuse ideas
- buying, selling and pricing recyclable material on the marketplace
- reporting and following up on local waste issues such as overflowing bins or illegal dumping
- understanding their dashboard statistics and how to reduce their footprint

Give accurate, actionable answers. If a question is unrelated to waste management or sustainability, say so briefly and steer back to how you can help.`

// ContextPlaceholder stands in for the context block when the caller sends none
const ContextPlaceholder = "No additional context provided."

// DirectiveSource resolves a language code into a reply-language instruction
type DirectiveSource interface {
	Directive(code string) string
}

// Builder composes system prompts
type Builder struct {
	directives DirectiveSource
}

// NewBuilder creates a new prompt builder
func NewBuilder(directives DirectiveSource) *Builder {
	return &Builder{directives: directives}
}

// Build returns the system prompt for one request. The result depends only on
// its arguments.
func (b *Builder) Build(context, language string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		context = ContextPlaceholder
	}

	var sb strings.Builder
	sb.WriteString(Persona)
	sb.WriteString("\n\nContext from the user's session:\n")
	sb.WriteString(context)
	sb.WriteString("\n\n")
	sb.WriteString(b.directives.Directive(language))
	return sb.String()
}
