// Package policy implements the policy engine (C10): declarative
// rule evaluation over an artifact graph with a deterministic
// deny/require/allow enforcement combinator (§4.10).
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
	"integritykernel.dev/kernel/khash"
)

// Operator is a condition comparison operator (§4.10).
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpSubsetOf    Operator = "subset_of"
	OpSupersetOf  Operator = "superset_of"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpExists      Operator = "exists"
	OpMatchesRegex Operator = "matches_regex"
)

// Effect is what a rule does when its condition holds.
type Effect string

const (
	EffectAllow   Effect = "allow"
	EffectDeny    Effect = "deny"
	EffectRequire Effect = "require"
)

// Severity governs whether a blocking effect is raised immediately.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Condition is one rule's predicate over the artifact graph.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Rule is one policy rule (§4.10).
type Rule struct {
	RuleID   string   `json:"ruleId"`
	Target   string   `json:"target"`
	Condition Condition `json:"condition"`
	Effect   Effect   `json:"effect"`
	Severity Severity `json:"severity"`
}

func (r Rule) normalize() canon.Object {
	return canon.Object{
		"ruleId": r.RuleID,
		"target": r.Target,
		"condition": canon.Object{
			"field":    r.Condition.Field,
			"operator": string(r.Condition.Operator),
			"value":    r.Condition.Value,
		},
		"effect":   string(r.Effect),
		"severity": string(r.Severity),
	}
}

// Policy is a named, hashable set of rules.
type Policy struct {
	PolicyID string `json:"policyId"`
	Rules    []Rule `json:"rules"`
}

func (p Policy) normalize() canon.Object {
	rules := make([]any, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = r.normalize()
	}
	return canon.Object{"policyId": p.PolicyID, "rules": rules}
}

// SetHash computes policySetHash = hash(sort-by-policyId(policies)) (§4.10).
func SetHash(policies []Policy) (string, error) {
	sorted := append([]Policy(nil), policies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PolicyID < sorted[j].PolicyID })
	arr := make([]any, len(sorted))
	for i, p := range sorted {
		arr[i] = p.normalize()
	}
	return khash.ContentHash(arr)
}

// Finding is one rule's evaluation outcome.
type Finding struct {
	RuleID   string   `json:"ruleId"`
	PolicyID string   `json:"policyId"`
	Matched  bool     `json:"matched"`
	Effect   Effect   `json:"effect"`
	Severity Severity `json:"severity"`
	Blocking bool     `json:"blocking"`
	Error    *kernelerr.Error `json:"error,omitempty"`
}

// Result is the policy engine's verdict for one evaluation pass.
type Result struct {
	Allowed  bool
	Findings []Finding
	// BlockingError is the first critical blocking failure encountered
	// in deterministic rule order, or nil when none fired (§4.10: a
	// critical blocking failure raises POLICY_DENIED/
	// POLICY_REQUIREMENT_FAILED immediately).
	BlockingError *kernelerr.Error
}

// regexTimeout bounds matches_regex evaluation (§4.10).
const regexTimeout = 50 * time.Millisecond

var disallowedRegexConstructs = []string{"(?=", "(?!", "(?<=", "(?<!"}

// Evaluate runs every rule in policies against data in declaration
// order (policies sorted by policyId, rules in the order given),
// collecting every finding; dryRun suppresses the BlockingError while
// still populating Findings and Allowed (§9's supplemented dry-run mode).
func Evaluate(policies []Policy, data map[string]any, dryRun bool) Result {
	sorted := append([]Policy(nil), policies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PolicyID < sorted[j].PolicyID })

	var findings []Finding
	var blocking *kernelerr.Error

	for _, p := range sorted {
		for _, r := range p.Rules {
			matched, evalErr := evaluateCondition(r.Condition, data)
			f := Finding{RuleID: r.RuleID, PolicyID: p.PolicyID, Matched: matched, Effect: r.Effect, Severity: r.Severity}
			if evalErr != nil {
				f.Error = evalErr
				findings = append(findings, f)
				if blocking == nil && r.Severity == SeverityCritical {
					blocking = evalErr.WithField(r.RuleID)
				}
				continue
			}

			isBlocking := (r.Effect == EffectDeny && matched) || (r.Effect == EffectRequire && !matched)
			f.Blocking = isBlocking
			findings = append(findings, f)

			if isBlocking && r.Severity == SeverityCritical && blocking == nil {
				code := kernelerr.PolicyDenied
				if r.Effect == EffectRequire {
					code = kernelerr.PolicyRequirementFailed
				}
				blocking = kernelerr.New(code, "policy rule "+r.RuleID+" produced a blocking critical failure").WithField(r.RuleID)
			}
		}
	}

	allowed := blocking == nil
	result := Result{Allowed: allowed, Findings: findings}
	if !dryRun {
		result.BlockingError = blocking
	}
	return result
}

// EvaluationHash computes policyEvaluationHash = hash(canonical(result)) (§4.10).
func EvaluationHash(r Result) (string, error) {
	findings := make([]any, len(r.Findings))
	for i, f := range r.Findings {
		obj := canon.Object{
			"ruleId":   f.RuleID,
			"policyId": f.PolicyID,
			"matched":  f.Matched,
			"effect":   string(f.Effect),
			"severity": string(f.Severity),
			"blocking": f.Blocking,
		}
		if f.Error != nil {
			obj["error"] = string(f.Error.Code)
		}
		findings[i] = obj
	}
	return khash.ContentHash(canon.Object{"allowed": r.Allowed, "findings": findings})
}

func evaluateCondition(c Condition, data map[string]any) (bool, *kernelerr.Error) {
	if strings.TrimSpace(c.Field) == "" {
		return false, kernelerr.New(kernelerr.PolicyFieldPathInvalid, "condition field path must not be empty")
	}
	val, ok := Resolve(c.Field, data)
	switch c.Operator {
	case OpExists:
		return ok, nil
	case OpEquals:
		if !ok {
			return false, nil
		}
		return equalValues(val, c.Value), nil
	case OpNotEquals:
		if !ok {
			return true, nil
		}
		return !equalValues(val, c.Value), nil
	case OpIn:
		if !ok {
			return false, nil
		}
		set, setErr := toSlice(c.Value)
		if setErr != nil {
			return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "in operator requires an array value")
		}
		for _, item := range set {
			if equalValues(val, item) {
				return true, nil
			}
		}
		return false, nil
	case OpSubsetOf:
		have, err1 := toSlice(val)
		want, err2 := toSlice(c.Value)
		if !ok || err1 != nil || err2 != nil {
			return false, nil
		}
		return isSubset(have, want), nil
	case OpSupersetOf:
		have, err1 := toSlice(val)
		want, err2 := toSlice(c.Value)
		if !ok || err1 != nil || err2 != nil {
			return false, nil
		}
		return isSubset(want, have), nil
	case OpGreaterThan, OpLessThan:
		if !ok {
			return false, nil
		}
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "greater_than/less_than require numeric operands")
		}
		if c.Operator == OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	case OpMatchesRegex:
		if !ok {
			return false, nil
		}
		s, sok := val.(string)
		pattern, pok := c.Value.(string)
		if !sok || !pok {
			return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "matches_regex requires string field and pattern")
		}
		return evaluateRegex(s, pattern)
	default:
		return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "unknown operator: "+string(c.Operator))
	}
}

func evaluateRegex(s, pattern string) (bool, *kernelerr.Error) {
	if len(pattern) > 200 {
		return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "regex pattern exceeds 200 characters")
	}
	for _, forbidden := range disallowedRegexConstructs {
		if strings.Contains(pattern, forbidden) {
			return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "regex pattern uses an unsupported lookaround construct")
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, kernelerr.New(kernelerr.PolicyEvaluationFailed, "regex pattern failed to compile: "+err.Error())
	}

	type result struct {
		matched bool
	}
	done := make(chan result, 1)
	go func() {
		done <- result{matched: re.MatchString(s)}
	}()
	select {
	case r := <-done:
		return r.matched, nil
	case <-time.After(regexTimeout):
		return false, kernelerr.New(kernelerr.PolicyRegexTimeout, "regex evaluation exceeded the timeout budget")
	}
}

// Resolve walks a dotted-path-with-[index] field path over data (§4.10).
// A path segment mismatch (e.g. `[n]` into a non-array, `.` into a
// non-object) returns (nil, false) rather than panicking.
func Resolve(path string, data any) (any, bool) {
	tokens, err := tokenizePath(path)
	if err != nil {
		return nil, false
	}
	cur := data
	for _, tok := range tokens {
		switch t := tok.(type) {
		case string:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = obj[t]
			if !ok {
				return nil, false
			}
		case int:
			arr, ok := cur.([]any)
			if !ok || t < 0 || t >= len(arr) {
				return nil, false
			}
			cur = arr[t]
		}
	}
	return cur, true
}

// tokenizePath splits "a.b[2].c" into ["a","b",2,"c"].
func tokenizePath(path string) ([]any, error) {
	if path == "" {
		return nil, errEmptyPath
	}
	var tokens []any
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	i := 0
	for i < len(path) {
		c := path[i]
		switch c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, errEmptyPath
			}
			idxStr := path[i+1 : i+end]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, errEmptyPath
			}
			tokens = append(tokens, idx)
			i += end + 1
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	if len(tokens) == 0 {
		return nil, errEmptyPath
	}
	return tokens, nil
}

var errEmptyPath = kernelerr.New(kernelerr.PolicyFieldPathInvalid, "empty or malformed field path")

func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, nil
	default:
		return nil, errEmptyPath
	}
}

func isSubset(a, b []any) bool {
	set := map[string]bool{}
	for _, x := range b {
		set[stringOf(x)] = true
	}
	for _, x := range a {
		if !set[stringOf(x)] {
			return false
		}
	}
	return true
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return stringOf(a) == stringOf(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
