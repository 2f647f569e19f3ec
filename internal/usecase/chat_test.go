package usecase

import (
	"encoding/json"
	"testing"

	"termagent/internal/domain"
)

func TestChat_HistoryIsACopy(t *testing.T) {
	chat := NewChat(ChatOptions{})
	chat.append(domain.Message{Role: domain.RoleAssistant, Parts: []domain.Part{
		domain.FunctionCallPart(domain.FunctionCall{ID: "1", Name: "ls", Args: map[string]any{"dir_path": "."}}),
	}})

	hist := chat.History()
	hist[0].Parts[0].FunctionCall.Args["dir_path"] = "/etc"
	hist[0].Role = domain.RoleUser

	again := chat.History()
	if again[0].Role != domain.RoleAssistant || again[0].FunctionCalls()[0].Args["dir_path"] != "." {
		t.Fatalf("history mutated through a copy: %+v", again[0])
	}
}

func TestChat_BuildRequest(t *testing.T) {
	temp := 0.2
	decls := []domain.ToolDeclaration{{Name: "ls", Parameters: json.RawMessage(`{"type":"object"}`)}}
	chat := NewChat(ChatOptions{
		SystemPrompt: "You are a coding agent.",
		Tools:        func() []domain.ToolDeclaration { return decls },
		Config:       domain.GenerationConfig{Temperature: &temp},
	})
	chat.append(domain.NewTextMessage(domain.RoleUser, "hi"))

	req := chat.BuildRequest("llama3")
	if req.Model != "llama3" || req.SystemInstruction != "You are a coding agent." {
		t.Errorf("req = %+v", req)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "ls" {
		t.Errorf("tools = %+v", req.Tools)
	}
	if req.Config.Temperature == nil || *req.Config.Temperature != 0.2 {
		t.Error("generation config not carried")
	}

	req.Contents[0].Parts[0].Text = "changed"
	req.Tools[0].Name = "changed"
	if chat.History()[0].Text() != "hi" || decls[0].Name != "ls" {
		t.Error("request shares state with the chat")
	}
}

func TestChat_Clear(t *testing.T) {
	chat := NewChat(ChatOptions{})
	id := chat.ID()
	if len(id) != 26 {
		t.Fatalf("id %q is not a ULID", id)
	}
	chat.append(domain.NewTextMessage(domain.RoleUser, "hi"))
	chat.Clear()
	if chat.Len() != 0 {
		t.Errorf("len = %d", chat.Len())
	}
	if chat.ID() == id {
		t.Error("Clear should start a new session id")
	}
}
