package agent

import (
	"regexp"
	"strings"

	"github.com/glindsay/resume-assistant/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// citationPattern matches source markers such as 【10:0†source】.
var citationPattern = regexp.MustCompile(`【[^】]*】`)

// introductionMessages is shown to visitors who have no conversation yet.
var introductionMessages = []domain.Message{
	{
		Role:    domain.RoleAssistant,
		Content: "Welcome to **Grant's Resume Assistant** chatbot! You can ask me questions about a Grant Lindsay's resume or work experience, and I'll do my best to provide relevant information.",
	},
	{
		Role:    domain.RoleAssistant,
		Content: "Feel free to start by asking a question. For example:\n\n**What does Grant do for work?** or\n\n**Please summarize Grant's skills.**",
	},
	{
		Role:    domain.RoleAssistant,
		Content: "Also, you can list the skills you are in need of and then ask, \"Would Grant be a good fit for this position?\"",
	},
	{
		Role:    domain.RoleAssistant,
		Content: "**Please note** that this application uses beta services from OpenAI and can make mistakes, even giving wrong answers. Do not make decisions based on these responses without first confirming they are correct.",
	},
}

// IntroductionMessages returns a copy of the fixed welcome script.
func IntroductionMessages() []domain.Message {
	out := make([]domain.Message, len(introductionMessages))
	copy(out, introductionMessages)
	return out
}

// StripCitations removes every 【...】 marker from content.
func StripCitations(content string) string {
	return citationPattern.ReplaceAllString(content, "")
}

// FormatMessages strips citation markers from every message, keeping roles.
func FormatMessages(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, m := range messages {
		out[i] = domain.Message{Role: m.Role, Content: StripCitations(m.Content)}
	}
	return out
}

// fromRemote converts a remote message, joining its text parts. Non-text parts are skipped.
func fromRemote(m openai.Message) domain.Message {
	var parts []string
	for _, c := range m.Content {
		if c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}

	role := domain.RoleAssistant
	if m.Role == string(openai.ThreadMessageRoleUser) {
		role = domain.RoleUser
	}
	return domain.Message{Role: role, Content: strings.Join(parts, "\n")}
}
