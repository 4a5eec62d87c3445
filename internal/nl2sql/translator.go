// Package nl2sql turns a question plus schema context into a SQL statement.
package nl2sql

import "context"

type Request struct {
	Question      string `json:"question"`
	SchemaContext string `json:"schema_context"`
	Dialect       string `json:"dialect"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Translator must return the statement only. Callers still run it through the
// query guard.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
