// Package uxerror turns engine errors into short messages with recovery
// hints for the TUI and the non-interactive printer.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"termagent/internal/adapter/tui/theme"
	"termagent/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats the error for the message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			fmt.Fprintf(&sb, "\n    %s %s", theme.SymbolBullet, h)
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

// Sentinels are checked before string patterns so wrapped errors still match.
var patterns = []errorPattern{
	{
		match: is(domain.ErrBackendUnreachable),
		produce: constantError("Backend Unreachable", "Could not connect to the model server.", []string{
			"Start the server, for example `ollama serve`",
			"Check llm.providers[].base_url or OLLAMA_HOST",
			"Run `termagent doctor` to probe the backend",
		}),
	},
	{
		match: is(domain.ErrCircuitOpen),
		produce: constantError("Backend Paused", "Too many consecutive backend failures; requests are paused briefly.", []string{
			"Wait a few seconds and try again",
			"Run `termagent doctor` to check the backend",
		}),
	},
	{
		match: is(domain.ErrBackendProtocol, domain.ErrStreamDecode),
		produce: constantError("Unexpected Backend Response", "The model server sent a response that could not be understood.", []string{
			"Check that the provider type matches the server (ollama or openai)",
			"Try again; partial output was kept in the conversation",
		}),
	},
	{
		match: is(domain.ErrContextOverflow),
		produce: constantError("Context Window Exceeded", "The conversation no longer fits in the model's context window.", []string{
			"Use /compress to summarize older history",
			"Use /clear to start over",
			"Raise agent.token_limit if the model supports a larger window",
		}),
	},
	{
		match: is(domain.ErrMaxIterations),
		produce: constantError("Turn Limit Reached", "The model kept requesting tools past the per-prompt limit.", []string{
			"Break the task into smaller steps",
			"Increase agent.max_session_turns in config",
		}),
	},
	{
		match: is(domain.ErrLoopSuspected),
		produce: constantError("Possible Loop", "The model appeared to repeat itself and the turn was stopped.", []string{
			"Rephrase the request with more detail",
		}),
	},
	{
		match: is(domain.ErrProviderNotFound),
		produce: constantError("Unknown Provider", "No backend is configured under that name.", []string{
			"Check llm.default_provider and llm.providers in config",
			"Run `termagent models` to list what the server offers",
		}),
	},
	{
		match: is(domain.ErrTurnActive),
		produce: constantError("Busy", "A turn is already running.", []string{
			"Wait for it to finish or press Esc to cancel it",
		}),
	},
	{
		match: is(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "Too many requests were sent to the backend.", []string{
			"Wait a moment before retrying",
			"Lower llm.requests_per_minute",
		}),
	},
	{
		match: is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The API key was rejected.", []string{
			"Check llm.providers[].api_key or TERMAGENT_LLM_PROVIDER_<NAME>_API_KEY",
		}),
	},
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the remote service.", []string{"Check the server URL in config", "Check if a firewall is blocking the connection"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout"),
		produce: constantError("Request Timed Out", "The backend did not start responding in time.", []string{"Larger models can take a while to load; try again", "Increase resp_timeout for the provider"}),
	},
	{
		match:   containsAny("401", "unauthorized", "invalid api key"),
		produce: constantError("Authentication Failed", "The API key was rejected.", []string{"Check llm.providers[].api_key or TERMAGENT_LLM_PROVIDER_<NAME>_API_KEY"}),
	},
	{
		match:   containsAny("429", "rate limit", "too many requests"),
		produce: constantError("Rate Limited", "Too many requests were sent to the backend.", []string{"Wait a moment before retrying"}),
	},
}

// Humanize converts err into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Set TERMAGENT_LOGGER_LEVEL=debug and check the log file"},
		Raw:     err.Error(),
	}
}

func is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// containsAny matches the error text case-insensitively.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
