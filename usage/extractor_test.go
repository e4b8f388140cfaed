// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTokenUsage_ProviderSchemas(t *testing.T) {
	tests := []struct {
		name    string
		modelID string
		body    string
		want    TokenUsage
	}{
		{
			name:    "anthropic claude",
			modelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
			body:    `{"content":[{"text":"hi"}],"usage":{"input_tokens":120,"output_tokens":80}}`,
			want:    TokenUsage{InputTokens: 120, OutputTokens: 80, TotalTokens: 200},
		},
		{
			name:    "amazon titan",
			modelID: "amazon.titan-text-express-v1",
			body:    `{"inputTextTokenCount":50,"results":[{"outputText":"hi","tokenCount":30}]}`,
			want:    TokenUsage{InputTokens: 50, OutputTokens: 30, TotalTokens: 80},
		},
		{
			name:    "meta llama",
			modelID: "meta.llama3-70b-instruct-v1:0",
			body:    `{"generation":"hi","prompt_token_count":40,"generation_token_count":25}`,
			want:    TokenUsage{InputTokens: 40, OutputTokens: 25, TotalTokens: 65},
		},
		{
			name:    "cohere command",
			modelID: "cohere.command-r-v1:0",
			body:    `{"meta":{"billed_units":{"input_tokens":33,"output_tokens":44}}}`,
			want:    TokenUsage{InputTokens: 33, OutputTokens: 44, TotalTokens: 77},
		},
		{
			name:    "openai chat",
			modelID: "gpt-4o",
			body:    `{"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`,
			want:    TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
		{
			name:    "bedrock converse (nova)",
			modelID: "amazon.nova-pro-v1:0",
			body:    `{"usage":{"inputTokens":15,"outputTokens":25,"totalTokens":40}}`,
			want:    TokenUsage{InputTokens: 15, OutputTokens: 25, TotalTokens: 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTokenUsage([]byte(tt.body), tt.modelID)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTokenUsage_UnknownModelProbesAllSchemas(t *testing.T) {
	// Model id maps to no tag, but the body carries a Meta-shaped schema.
	body := `{"prompt_token_count":7,"generation_token_count":9}`
	got := ExtractTokenUsage([]byte(body), "custom.self-hosted-model")
	assert.Equal(t, TokenUsage{InputTokens: 7, OutputTokens: 9, TotalTokens: 16}, got)
}

func TestExtractTokenUsage_NoMatchReturnsZeros(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "definitely not json"},
		{"json without usage", `{"message":"ok"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTokenUsage([]byte(tt.body), "anthropic.claude-3-5-sonnet-20241022-v2:0")
			assert.True(t, got.IsZero(), "expected zero usage, got %+v", got)
		})
	}
}

func TestExtractTokenUsage_WrongTagFallsThrough(t *testing.T) {
	// Claude model id, but the body is Titan-shaped (e.g. a proxied response).
	body := `{"inputTextTokenCount":11,"results":[{"tokenCount":13}]}`
	got := ExtractTokenUsage([]byte(body), "anthropic.claude-3-haiku")
	assert.Equal(t, TokenUsage{InputTokens: 11, OutputTokens: 13, TotalTokens: 24}, got)
}
