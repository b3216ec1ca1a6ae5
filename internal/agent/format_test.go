package agent

import (
	"testing"

	"github.com/glindsay/resume-assistant/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestStripCitations(t *testing.T) {
	tests := map[string]string{
		"Grant knows【10:0†source】Go":            "Grant knowsGo",
		"no markers here":                       "no markers here",
		"【1:0†a】start and end【2:1†b】":           "start and end",
		"unterminated 【marker stays":            "unterminated 【marker stays",
		"**bold**【3:2†resume.pdf】\n\nnext line": "**bold**\n\nnext line",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripCitations(in), in)
	}
}

func TestFormatMessagesKeepsRoles(t *testing.T) {
	in := []domain.Message{
		{Role: domain.RoleUser, Content: "What does Grant do?"},
		{Role: domain.RoleAssistant, Content: "He writes Go【1:0†cv】."},
	}
	out := FormatMessages(in)
	assert.Equal(t, domain.RoleUser, out[0].Role)
	assert.Equal(t, domain.RoleAssistant, out[1].Role)
	assert.Equal(t, "He writes Go.", out[1].Content)
	assert.Equal(t, "He writes Go【1:0†cv】.", in[1].Content, "input is not modified")
}

func TestIntroductionMessages(t *testing.T) {
	intro := IntroductionMessages()
	assert.Len(t, intro, 4)
	for _, m := range intro {
		assert.Equal(t, domain.RoleAssistant, m.Role)
		assert.NotEmpty(t, m.Content)
	}

	intro[0].Content = "changed"
	assert.NotEqual(t, "changed", IntroductionMessages()[0].Content)
}

func TestFromRemote(t *testing.T) {
	m := openai.Message{
		Role: "assistant",
		Content: []openai.MessageContent{
			{Type: "text", Text: &openai.MessageText{Value: "part one"}},
			{Type: "image_file"},
			{Type: "text", Text: &openai.MessageText{Value: "part two"}},
		},
	}
	got := fromRemote(m)
	assert.Equal(t, domain.RoleAssistant, got.Role)
	assert.Equal(t, "part one\npart two", got.Content)

	assert.Equal(t, domain.RoleUser, fromRemote(openai.Message{Role: "user"}).Role)
	assert.Empty(t, fromRemote(openai.Message{Role: "assistant"}).Content)
}
