// Package services holds the application use cases.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	apperrors "github.com/reglet-dev/warden/internal/application/errors"
	"github.com/reglet-dev/warden/internal/application/ports"
	"github.com/reglet-dev/warden/internal/domain/permissions"
)

// GrantEnv defines the variables available to auto-approve rules.
type GrantEnv struct {
	Plugin  string `expr:"plugin"`
	Kind    string `expr:"kind"`
	Pattern string `expr:"pattern"`
	Risk    string `expr:"risk"`
	Broad   bool   `expr:"broad"`
}

// ApprovalRequest describes the plugin being reviewed.
type ApprovalRequest struct {
	Plugin      string
	Version     *semver.Version
	Permissions permissions.PluginPermissions
	// TrustAll approves everything without asking, except under the
	// strict level, which still refuses broad capabilities.
	TrustAll bool
}

// Decision is the outcome of a review.
type Decision struct {
	// New holds capabilities not covered by the previous approval.
	New permissions.Grant
	// AutoApproved holds the subset of New matched by a rule.
	AutoApproved permissions.Grant
	// Prompted is true when the operator was asked.
	Prompted bool
}

// ApprovalService decides whether a plugin may run with the permissions its
// manifest declares. Only capabilities added since the last approval are
// reviewed, so upgrades that keep their permissions run without asking.
type ApprovalService struct {
	store    ports.GrantStore
	prompter ports.Prompter
	level    permissions.SecurityLevel
	rules    []*vm.Program
	now      func() time.Time
}

// NewApprovalService compiles the auto-approve rules. A rule is an expr
// boolean over GrantEnv, for example `kind == "env" && pattern startsWith "APP_"`.
func NewApprovalService(store ports.GrantStore, prompter ports.Prompter, level permissions.SecurityLevel, autoApprove []string) (*ApprovalService, error) {
	rules := make([]*vm.Program, 0, len(autoApprove))
	for _, rule := range autoApprove {
		program, err := expr.Compile(rule, expr.Env(GrantEnv{}), expr.AsBool())
		if err != nil {
			return nil, apperrors.NewConfigurationError("security.auto_approve", fmt.Sprintf("invalid rule %q", rule), err)
		}
		rules = append(rules, program)
	}
	return &ApprovalService{
		store:    store,
		prompter: prompter,
		level:    level,
		rules:    rules,
		now:      time.Now,
	}, nil
}

// Review approves req or returns an *apperrors.ApprovalError. Approved
// permissions are persisted.
func (s *ApprovalService) Review(ctx context.Context, req ApprovalRequest) (Decision, error) {
	prev, found, err := s.store.Get(req.Plugin)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load approvals: %w", err)
	}
	if found {
		s.checkVersion(ctx, req, prev)
	}

	decision := Decision{New: permissions.Diff(prev.Permissions, req.Permissions)}
	if len(decision.New) == 0 {
		return decision, s.save(req, found, prev)
	}

	var broad []permissions.Capability
	for _, c := range decision.New {
		if c.IsBroad() {
			broad = append(broad, c)
		}
	}
	switch {
	case len(broad) > 0 && s.level == permissions.SecurityLevelStrict:
		return decision, apperrors.NewApprovalError(req.Plugin, "broad capabilities are denied by the strict security level", broad)
	case len(broad) > 0 && s.level == permissions.SecurityLevelStandard:
		for _, c := range broad {
			slog.WarnContext(ctx, "plugin requests a broad capability", "plugin", req.Plugin, "capability", c.String(), "risk", c.RiskDescription())
		}
	}

	pending := permissions.NewGrant()
	decision.AutoApproved = permissions.NewGrant()
	for _, c := range decision.New {
		ok, err := s.autoApproved(req.Plugin, c)
		if err != nil {
			return decision, err
		}
		if ok {
			decision.AutoApproved.Add(c)
		} else {
			pending.Add(c)
		}
	}

	if len(pending) > 0 && !req.TrustAll {
		if !s.prompter.IsInteractive() {
			return decision, apperrors.NewApprovalError(req.Plugin, "new capabilities need approval and no terminal is attached", pending)
		}
		decision.Prompted = true
		approved, err := s.prompter.Confirm(ctx, req.Plugin, pending)
		if err != nil {
			return decision, fmt.Errorf("approval prompt failed: %w", err)
		}
		if !approved {
			return decision, apperrors.NewApprovalError(req.Plugin, "denied by operator", pending)
		}
	}
	if req.TrustAll && len(pending) > 0 {
		slog.WarnContext(ctx, "auto-granting all requested capabilities (--trust enabled)", "plugin", req.Plugin, "count", len(pending))
	}

	return decision, s.save(req, false, prev)
}

func (s *ApprovalService) autoApproved(plugin string, c permissions.Capability) (bool, error) {
	env := GrantEnv{
		Plugin:  plugin,
		Kind:    c.Kind,
		Pattern: c.Pattern,
		Risk:    c.RiskLevel().String(),
		Broad:   c.IsBroad(),
	}
	for _, program := range s.rules {
		out, err := expr.Run(program, env)
		if err != nil {
			return false, fmt.Errorf("auto-approve rule failed: %w", err)
		}
		if matched, _ := out.(bool); matched {
			return true, nil
		}
	}
	return false, nil
}

// checkVersion warns when a plugin is downgraded below its approved version.
func (s *ApprovalService) checkVersion(ctx context.Context, req ApprovalRequest, prev permissions.Approval) {
	if req.Version == nil || prev.Version == "" {
		return
	}
	approved, err := semver.NewVersion(prev.Version)
	if err != nil {
		return
	}
	if req.Version.LessThan(approved) {
		slog.WarnContext(ctx, "plugin version is older than the approved one",
			"plugin", req.Plugin, "version", req.Version.String(), "approved", approved.String())
	}
}

// save records the approval. unchanged skips the write when nothing new
// was approved and the version is the same.
func (s *ApprovalService) save(req ApprovalRequest, unchanged bool, prev permissions.Approval) error {
	version := ""
	if req.Version != nil {
		version = req.Version.String()
	}
	if unchanged && prev.Version == version {
		return nil
	}

	// Keep approved capabilities the manifest dropped, so re-adding them
	// later does not prompt again.
	merged := req.Permissions
	merged.Network = union(prev.Permissions.Network, req.Permissions.Network)
	merged.Filesystem = union(prev.Permissions.Filesystem, req.Permissions.Filesystem)
	merged.EnvVars = union(prev.Permissions.EnvVars, req.Permissions.EnvVars)
	merged.Shell = prev.Permissions.Shell || req.Permissions.Shell

	if err := s.store.Put(req.Plugin, permissions.Approval{
		Version:     version,
		Permissions: merged,
		ApprovedAt:  s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
