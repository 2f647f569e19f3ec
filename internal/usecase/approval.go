package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"termagent/internal/domain"
)

// ApprovalMode selects which tool kinds run without asking.
type ApprovalMode string

const (
	// ApprovalDefault asks for every side-effecting tool.
	ApprovalDefault ApprovalMode = "default"
	// ApprovalAutoEdit approves file edits and asks for everything else.
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	// ApprovalYolo approves everything.
	ApprovalYolo ApprovalMode = "yolo"
)

// ParseApprovalMode accepts the config spellings of a mode.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch m := ApprovalMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ApprovalDefault, nil
	case ApprovalDefault, ApprovalAutoEdit, ApprovalYolo:
		return m, nil
	case "autoedit", "auto-edit":
		return ApprovalAutoEdit, nil
	default:
		return "", domain.NewDomainError("ParseApprovalMode", domain.ErrInvalidInput,
			fmt.Sprintf("unknown approval mode %q (want default, auto_edit or yolo)", s))
	}
}

// ApprovalPolicy decides whether a call must wait for a human. Tools
// approved with proceed_always are remembered for the session.
type ApprovalPolicy struct {
	mu     sync.RWMutex
	mode   ApprovalMode
	always map[string]bool
}

// NewApprovalPolicy creates a policy. alwaysAllow names tools that never
// need approval.
func NewApprovalPolicy(mode ApprovalMode, alwaysAllow []string) *ApprovalPolicy {
	p := &ApprovalPolicy{mode: mode, always: make(map[string]bool, len(alwaysAllow))}
	for _, name := range alwaysAllow {
		p.always[name] = true
	}
	return p
}

// NeedsApproval reports whether a call to name (of kind) must be approved.
func (p *ApprovalPolicy) NeedsApproval(name string, kind domain.ToolKind) bool {
	if kind.IsReadOnly() {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.mode == ApprovalYolo:
		return false
	case p.mode == ApprovalAutoEdit && kind == domain.KindEdit:
		return false
	}
	return !p.always[name]
}

// Remember records a proceed_always decision for name.
func (p *ApprovalPolicy) Remember(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.always[name] = true
}

// Mode returns the current approval mode.
func (p *ApprovalPolicy) Mode() ApprovalMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SetMode switches the approval mode for the rest of the session.
func (p *ApprovalPolicy) SetMode(m ApprovalMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
}

// ConfigApprover is an ApprovalHandler for sessions without a human. Tools
// on the allow list proceed once; everything else is rejected.
type ConfigApprover struct {
	allow map[string]bool
}

// NewConfigApprover creates a ConfigApprover from an allow list.
func NewConfigApprover(allow []string) *ConfigApprover {
	a := &ConfigApprover{allow: make(map[string]bool, len(allow))}
	for _, name := range allow {
		a.allow[name] = true
	}
	return a
}

func (c *ConfigApprover) RequestApproval(_ context.Context, req domain.ApprovalRequest) (domain.ApprovalOutcome, error) {
	if c.allow[req.Call.Name] {
		return domain.ProceedOnce, nil
	}
	return domain.Reject, nil
}
