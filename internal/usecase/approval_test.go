package usecase

import (
	"context"
	"errors"
	"testing"

	"termagent/internal/domain"
)

func TestParseApprovalMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ApprovalMode
		wantErr bool
	}{
		{"", ApprovalDefault, false},
		{"default", ApprovalDefault, false},
		{"auto_edit", ApprovalAutoEdit, false},
		{"Auto-Edit", ApprovalAutoEdit, false},
		{"autoedit", ApprovalAutoEdit, false},
		{" yolo ", ApprovalYolo, false},
		{"always", "", true},
	}
	for _, tt := range tests {
		got, err := ParseApprovalMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("ParseApprovalMode(%q) err = %v, want ErrInvalidInput", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseApprovalMode(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestApprovalPolicy_AlwaysAllowAndRemember(t *testing.T) {
	p := NewApprovalPolicy(ApprovalDefault, []string{"run_shell_command"})
	if p.NeedsApproval("run_shell_command", domain.KindExecute) {
		t.Error("allow-listed tool should not need approval")
	}
	if !p.NeedsApproval("write_file", domain.KindEdit) {
		t.Error("write_file should need approval in default mode")
	}
	p.Remember("write_file")
	if p.NeedsApproval("write_file", domain.KindEdit) {
		t.Error("remembered tool should not need approval")
	}
}

func TestApprovalPolicy_SetMode(t *testing.T) {
	p := NewApprovalPolicy(ApprovalDefault, nil)
	p.SetMode(ApprovalAutoEdit)
	if p.Mode() != ApprovalAutoEdit {
		t.Fatalf("mode = %q", p.Mode())
	}
	if p.NeedsApproval("replace", domain.KindEdit) {
		t.Error("auto_edit approves edits")
	}
	if !p.NeedsApproval("run_shell_command", domain.KindExecute) {
		t.Error("auto_edit still asks for commands")
	}
	if !p.NeedsApproval("mystery", domain.KindOther) {
		t.Error("unknown kinds need approval")
	}
}

func TestConfigApprover(t *testing.T) {
	a := NewConfigApprover([]string{"write_file"})
	tests := []struct {
		name string
		want domain.ApprovalOutcome
	}{
		{"write_file", domain.ProceedOnce},
		{"run_shell_command", domain.Reject},
	}
	for _, tt := range tests {
		got, err := a.RequestApproval(context.Background(), domain.ApprovalRequest{
			Call: domain.ToolCallRequest{Name: tt.name},
			Kind: domain.KindEdit,
		})
		if err != nil || got != tt.want {
			t.Errorf("RequestApproval(%s) = %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}
}
