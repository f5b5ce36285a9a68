package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Heavy "), genai.Text("water.")}},
		}},
	}
	assert.Equal(t, "Heavy water.", responseText(resp))
	assert.Empty(t, responseText(&genai.GenerateContentResponse{}))
	assert.Empty(t, responseText(nil))
}
