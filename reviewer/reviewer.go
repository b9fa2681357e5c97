// Package reviewer implements the reviewer orchestrator (C11): structural
// validation of a step's packet and patch against its DoD/DecisionLock,
// then a sequential, fail-closed pipeline of isolated per-role reviews
// (§4.11).
package reviewer

import (
	"strings"

	"integritykernel.dev/kernel/artifact"
	"integritykernel.dev/kernel/kernelerr"
)

const stepReviewer = 5

// Rule is a pure per-role check drawn from the static registry.
// It sees only the packet, patch, and dod — never other roles' reports.
type Rule struct {
	ID string
	Fn func(envelope artifact.StepPacket, patch artifact.PatchArtifact, dod *artifact.DefinitionOfDone) []artifact.Violation
}

// Outcome is the orchestrator's verdict for one step.
type Outcome struct {
	Passed   bool
	FailedAt artifact.ReviewerRole
	Reports  []artifact.ReviewerReport
}

// StructuralCheck validates the cross-artifact invariants §4.11 requires
// before any reviewer role runs.
func StructuralCheck(envelope artifact.StepPacket, patch artifact.PatchArtifact, dod artifact.DefinitionOfDone, lock artifact.DecisionLock) *kernelerr.MultiError {
	me := &kernelerr.MultiError{}

	if !strings.Contains(lock.Goal, envelope.LockGoalExcerpt) {
		me.Add(kernelerr.New(kernelerr.StepEnvelopeInvalid, "lockGoalExcerpt is not a substring of decisionLock.goal").WithArtifact(string(artifact.KindStepPacket)).WithField("lockGoalExcerpt"))
	}

	items := map[string]bool{}
	for _, it := range dod.Items {
		items[it.ItemID] = true
	}
	for _, ref := range envelope.DoDItemRefs {
		if !items[ref] {
			me.Add(kernelerr.New(kernelerr.StepEnvelopeInvalid, "referenced DoD item does not exist").WithArtifact(string(artifact.KindStepPacket)).WithField(ref))
		}
	}

	allowed := envelope.AllowedFilePaths()
	for _, fc := range patch.FilesChanged {
		if !allowed[fc.Path] {
			me.Add(kernelerr.New(kernelerr.BoundaryViolation, "patch touches a file outside allowedFiles").WithArtifact(string(artifact.KindPatchArtifact)).WithField(fc.Path))
		}
	}

	return me
}

// Registry is the static role -> rules table. Roles absent from the
// registry still run (with zero rules) unless IsKnownRole rejects them
// first; an unregistered-but-known role is a configuration gap, not a
// REVIEWER_FAILED.
type Registry map[artifact.ReviewerRole][]Rule

// DefaultRegistry returns the built-in rule set (§4.11's representative
// rule classes).
func DefaultRegistry() Registry {
	return Registry{
		artifact.RoleSecurity: {
			{ID: "forbidden-module", Fn: forbiddenModuleRule},
			{ID: "unauthorized-file", Fn: unauthorizedFileRule},
		},
		artifact.RoleCorrectness: {
			{ID: "undeclared-import", Fn: undeclaredImportRule},
		},
		artifact.RoleStyle: {
			{ID: "mutable-global", Fn: mutableGlobalRule},
		},
		artifact.RoleTestCoverage: {
			{ID: "test-presence", Fn: testPresenceRule},
			{ID: "flaky-pattern", Fn: flakyPatternRule},
		},
		artifact.RoleTechLead: {
			{ID: "ci-file-modification", Fn: ciFileModificationRule},
		},
	}
}

// Run executes envelope.ReviewerSequence in order, stopping at the
// first role that produces any violation (fail-closed, §4.11). Each
// role's report is independent: a role never sees an earlier role's
// ReviewerReport.
func Run(registry Registry, envelope artifact.StepPacket, patch artifact.PatchArtifact, dod *artifact.DefinitionOfDone) (Outcome, *kernelerr.Error) {
	var reports []artifact.ReviewerReport
	for _, role := range envelope.ReviewerSequence {
		if !artifact.IsKnownRole(role) {
			return Outcome{}, kernelerr.New(kernelerr.ReviewerFailed, "unknown reviewer role").WithField(string(role))
		}
		var violations []artifact.Violation
		for _, rule := range registry[role] {
			violations = append(violations, rule.Fn(envelope, patch, dod)...)
		}
		report := artifact.ReviewerReport{
			SessionID:  envelope.SessionID,
			StepID:     envelope.StepID,
			Role:       role,
			Passed:     len(violations) == 0,
			Violations: violations,
		}
		reports = append(reports, report)
		if !report.Passed {
			return Outcome{Passed: false, FailedAt: role, Reports: reports}, nil
		}
	}
	return Outcome{Passed: true, Reports: reports}, nil
}

var forbiddenModules = []string{"child_process", "http", "net", "eval", "require("}

func forbiddenModuleRule(envelope artifact.StepPacket, patch artifact.PatchArtifact, _ *artifact.DefinitionOfDone) []artifact.Violation {
	var out []artifact.Violation
	for _, fc := range patch.FilesChanged {
		for _, mod := range forbiddenModules {
			if strings.Contains(fc.Diff, mod) {
				out = append(out, artifact.Violation{RuleID: "forbidden-module", Message: "diff references forbidden module/construct: " + mod, Field: fc.Path})
			}
		}
	}
	return out
}

func unauthorizedFileRule(envelope artifact.StepPacket, patch artifact.PatchArtifact, _ *artifact.DefinitionOfDone) []artifact.Violation {
	allowed := envelope.AllowedFilePaths()
	var out []artifact.Violation
	for _, fc := range patch.FilesChanged {
		if !allowed[fc.Path] {
			out = append(out, artifact.Violation{RuleID: "unauthorized-file", Message: "file not in allowedFiles", Field: fc.Path})
		}
	}
	return out
}

func undeclaredImportRule(envelope artifact.StepPacket, patch artifact.PatchArtifact, _ *artifact.DefinitionOfDone) []artifact.Violation {
	declared := map[string]bool{}
	for _, imp := range patch.DeclaredImports {
		declared[imp] = true
	}
	var out []artifact.Violation
	for _, fc := range patch.FilesChanged {
		for _, imp := range extractImports(fc.Diff) {
			if !declared[imp] {
				out = append(out, artifact.Violation{RuleID: "undeclared-import", Message: "import not declared in declaredImports: " + imp, Field: fc.Path})
			}
		}
	}
	return out
}

// extractImports finds bare `import "pkg"` occurrences in a unified
// diff's added lines; this is a lightweight lexical scan, not a parser.
func extractImports(diff string) []string {
	var out []string
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "+"))
		if !strings.HasPrefix(line, "import ") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "import "))
		rest = strings.Trim(rest, `"`)
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func mutableGlobalRule(_ artifact.StepPacket, patch artifact.PatchArtifact, _ *artifact.DefinitionOfDone) []artifact.Violation {
	var out []artifact.Violation
	for _, fc := range patch.FilesChanged {
		if strings.Contains(fc.Diff, "\nvar ") && strings.Contains(fc.Diff, "= map[") {
			out = append(out, artifact.Violation{RuleID: "mutable-global", Message: "diff introduces a package-level mutable map", Field: fc.Path})
		}
	}
	return out
}

func testPresenceRule(_ artifact.StepPacket, patch artifact.PatchArtifact, dod *artifact.DefinitionOfDone) []artifact.Violation {
	if dod == nil {
		return nil
	}
	requiresExitCode := false
	for _, it := range dod.Items {
		if it.VerificationMethod == artifact.MethodCommandExitCode {
			requiresExitCode = true
		}
	}
	if !requiresExitCode {
		return nil
	}
	for _, fc := range patch.FilesChanged {
		if strings.Contains(fc.Path, "_test.") || strings.Contains(fc.Path, "test_") {
			return nil
		}
	}
	return []artifact.Violation{{RuleID: "test-presence", Message: "DoD requires command_exit_code verification but no test file was changed"}}
}

var flakyPatterns = []string{"Date.now", "Math.random"}

func flakyPatternRule(_ artifact.StepPacket, patch artifact.PatchArtifact, _ *artifact.DefinitionOfDone) []artifact.Violation {
	var out []artifact.Violation
	for _, fc := range patch.FilesChanged {
		for _, p := range flakyPatterns {
			if strings.Contains(fc.Diff, p) {
				out = append(out, artifact.Violation{RuleID: "flaky-pattern", Message: "diff uses a non-deterministic pattern: " + p, Field: fc.Path})
			}
		}
	}
	return out
}

func ciFileModificationRule(envelope artifact.StepPacket, patch artifact.PatchArtifact, _ *artifact.DefinitionOfDone) []artifact.Violation {
	permitted := envelope.AllowedFilePaths()
	var out []artifact.Violation
	for _, fc := range patch.FilesChanged {
		if isCIFile(fc.Path) && !permitted[fc.Path] {
			out = append(out, artifact.Violation{RuleID: "ci-file-modification", Message: "CI configuration modified without explicit permission", Field: fc.Path})
		}
	}
	return out
}

func isCIFile(path string) bool {
	return strings.HasPrefix(path, ".github/workflows/") ||
		strings.HasPrefix(path, ".gitlab-ci") ||
		strings.Contains(path, ".circleci/")
}
