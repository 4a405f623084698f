package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/agentmarket/engine/internal/apperr"
)

// TestType is the closed set of declarative-mode check kinds.
type TestType string

const (
	TestJSONSchema TestType = "json_schema"
	TestCountGTE   TestType = "count_gte"
	TestCountLTE   TestType = "count_lte"
	TestContains   TestType = "contains"
	TestLatencyLTE TestType = "latency_lte"
	TestHTTPStatus TestType = "http_status"
	TestChecksum   TestType = "checksum"
	TestAssertion  TestType = "assertion"
)

const (
	maxTestsPerSuite      = 20
	maxAssertionExprChars = 500
)

// Test is one declarative-mode check.
type Test struct {
	TestID string          `json:"test_id"`
	Type   TestType        `json:"type"`
	Params json.RawMessage `json:"params"`
}

// PassThreshold decides whether a suite of per-test results counts as an
// overall pass: "all", "majority", or {"min_pass": N}.
type PassThreshold struct {
	Mode    string `json:"-"`
	MinPass int    `json:"-"`
}

func (p *PassThreshold) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Mode = s
		return nil
	}
	var obj struct {
		MinPass int `json:"min_pass"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("pass_threshold must be a string or {\"min_pass\": N}: %w", err)
	}
	p.Mode = "min_pass"
	p.MinPass = obj.MinPass
	return nil
}

// DeclarativeCriteria is the `tests` shape of acceptance_criteria.
type DeclarativeCriteria struct {
	Tests         []Test        `json:"tests"`
	PassThreshold PassThreshold `json:"pass_threshold"`
}

// TestResult is the outcome of one declarative check.
type TestResult struct {
	TestID string `json:"testId"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidateDeclarative checks the suite shape at proposal time so malformed
// criteria never reach a verify call.
func ValidateDeclarative(c DeclarativeCriteria) error {
	if len(c.Tests) == 0 {
		return apperr.Validation("declarative criteria must have at least one test")
	}
	if len(c.Tests) > maxTestsPerSuite {
		return apperr.Validation(fmt.Sprintf("declarative criteria exceed the %d test cap", maxTestsPerSuite))
	}
	seen := map[string]bool{}
	for _, t := range c.Tests {
		if t.TestID == "" {
			return apperr.Validation("every test requires a test_id")
		}
		if seen[t.TestID] {
			return apperr.Validation("duplicate test_id: " + t.TestID)
		}
		seen[t.TestID] = true
		switch t.Type {
		case TestJSONSchema, TestCountGTE, TestCountLTE, TestContains, TestLatencyLTE, TestHTTPStatus, TestChecksum, TestAssertion:
		default:
			return apperr.Validation("unsupported test type: " + string(t.Type))
		}
		if t.Type == TestAssertion {
			var p struct {
				Expression string `json:"expression"`
			}
			if err := json.Unmarshal(t.Params, &p); err != nil {
				return apperr.Validation("assertion test requires a params.expression string")
			}
			if len(p.Expression) > maxAssertionExprChars {
				return apperr.Validation("assertion expression exceeds 500 characters")
			}
			if _, err := compileAssertion(p.Expression); err != nil {
				return apperr.Validation("assertion expression failed to compile: " + err.Error())
			}
		}
	}
	switch c.PassThreshold.Mode {
	case "all", "majority":
	case "min_pass":
		if c.PassThreshold.MinPass < 1 || c.PassThreshold.MinPass > len(c.Tests) {
			return apperr.Validation("min_pass must be between 1 and the number of tests")
		}
	default:
		return apperr.Validation("pass_threshold must be \"all\", \"majority\", or {\"min_pass\": N}")
	}
	return nil
}

// RunDeclarative evaluates every test against deliverable and applies the
// suite's pass_threshold.
func RunDeclarative(c DeclarativeCriteria, deliverable json.RawMessage, latencySeconds float64, httpStatus int) (bool, []TestResult) {
	results := make([]TestResult, 0, len(c.Tests))
	passCount := 0
	for _, t := range c.Tests {
		ok, detail := runTest(t, deliverable, latencySeconds, httpStatus)
		if ok {
			passCount++
		}
		results = append(results, TestResult{TestID: t.TestID, Passed: ok, Detail: detail})
	}

	var overallPass bool
	switch c.PassThreshold.Mode {
	case "all":
		overallPass = passCount == len(c.Tests)
	case "majority":
		overallPass = passCount*2 > len(c.Tests)
	case "min_pass":
		overallPass = passCount >= c.PassThreshold.MinPass
	}
	return overallPass, results
}

func runTest(t Test, deliverable json.RawMessage, latencySeconds float64, httpStatus int) (bool, string) {
	switch t.Type {
	case TestJSONSchema:
		return checkJSONSchema(t.Params, deliverable)
	case TestCountGTE:
		return checkCount(t.Params, deliverable, func(got, want int) bool { return got >= want })
	case TestCountLTE:
		return checkCount(t.Params, deliverable, func(got, want int) bool { return got <= want })
	case TestContains:
		return checkContains(t.Params, deliverable)
	case TestLatencyLTE:
		return checkLatency(t.Params, latencySeconds)
	case TestHTTPStatus:
		return checkHTTPStatus(t.Params, deliverable, httpStatus)
	case TestChecksum:
		return checkChecksum(t.Params, deliverable)
	case TestAssertion:
		return checkAssertion(t.Params, deliverable)
	default:
		return false, "unknown test type"
	}
}

// checkJSONSchema validates the deliverable's required top-level keys
// against a minimal schema shape: {"required": [...], "type": "object"}.
// Field types are not checked.
// A full JSON-Schema draft evaluator is out of scope; this covers the shape
// that acceptance criteria in practice specify.
func checkJSONSchema(params, deliverable json.RawMessage) (bool, string) {
	var schema struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(params, &schema); err != nil {
		return false, "invalid schema params: " + err.Error()
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(deliverable, &obj); err != nil {
		if schema.Type == "object" {
			return false, "deliverable is not a JSON object"
		}
		return true, ""
	}
	for _, key := range schema.Required {
		if _, ok := obj[key]; !ok {
			return false, "missing required field: " + key
		}
	}
	return true, ""
}

func checkCount(params, deliverable json.RawMessage, cmp func(got, want int) bool) (bool, string) {
	var p struct {
		Path  string `json:"path"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false, "invalid count params: " + err.Error()
	}
	arr, err := resolveArray(deliverable, p.Path)
	if err != nil {
		return false, err.Error()
	}
	return cmp(len(arr), p.Count), fmt.Sprintf("got %d, want threshold %d", len(arr), p.Count)
}

func checkContains(params, deliverable json.RawMessage) (bool, string) {
	var p struct {
		Value string `json:"value"`
		Regex bool   `json:"regex"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false, "invalid contains params: " + err.Error()
	}
	haystack := string(deliverable)
	if p.Regex {
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false, "invalid regex: " + err.Error()
		}
		return re.MatchString(haystack), ""
	}
	return strings.Contains(haystack, p.Value), ""
}

func checkLatency(params json.RawMessage, latencySeconds float64) (bool, string) {
	var p struct {
		MaxSeconds float64 `json:"max_seconds"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false, "invalid latency params: " + err.Error()
	}
	return latencySeconds <= p.MaxSeconds, fmt.Sprintf("elapsed %.3fs, limit %.3fs", latencySeconds, p.MaxSeconds)
}

func checkHTTPStatus(params, deliverable json.RawMessage, fallbackStatus int) (bool, string) {
	var p struct {
		Expected int `json:"expected"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false, "invalid http_status params: " + err.Error()
	}
	status := fallbackStatus
	var obj map[string]interface{}
	if json.Unmarshal(deliverable, &obj) == nil {
		for _, key := range []string{"status_code", "http_status"} {
			if v, ok := obj[key]; ok {
				if f, ok := v.(float64); ok {
					status = int(f)
				}
			}
		}
	}
	return status == p.Expected, fmt.Sprintf("got %d, want %d", status, p.Expected)
}

func checkChecksum(params, deliverable json.RawMessage) (bool, string) {
	var p struct {
		Expected string `json:"expected"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false, "invalid checksum params: " + err.Error()
	}
	canonical, err := canonicalizeJSON(deliverable)
	if err != nil {
		return false, "deliverable is not valid JSON: " + err.Error()
	}
	sum := sha256.Sum256(canonical)
	got := hex.EncodeToString(sum[:])
	return got == strings.ToLower(p.Expected), fmt.Sprintf("got %s, want %s", got, p.Expected)
}

func checkAssertion(params, deliverable json.RawMessage) (bool, string) {
	var p struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false, "invalid assertion params: " + err.Error()
	}
	prg, err := compileAssertion(p.Expression)
	if err != nil {
		return false, "compile error: " + err.Error()
	}
	var output interface{}
	if err := json.Unmarshal(deliverable, &output); err != nil {
		return false, "deliverable is not valid JSON"
	}
	out, _, err := prg.Eval(map[string]interface{}{"output": output})
	if err != nil {
		return false, "evaluation error: " + err.Error()
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, "assertion did not evaluate to a boolean"
	}
	return b, ""
}

// compileAssertion builds a CEL program over a single `output` variable. CEL
// is itself a pure-expression language with no imports, no function
// definitions, and no reflective attribute access, so the whitelist the
// criteria demands falls out of the language choice rather than a bespoke
// parser.
func compileAssertion(expr string) (cel.Program, error) {
	if len(expr) > maxAssertionExprChars {
		return nil, fmt.Errorf("expression exceeds %d characters", maxAssertionExprChars)
	}
	env, err := cel.NewEnv(cel.Variable("output", cel.DynType))
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}

func resolveArray(deliverable json.RawMessage, path string) ([]interface{}, error) {
	var root interface{}
	if err := json.Unmarshal(deliverable, &root); err != nil {
		return nil, fmt.Errorf("deliverable is not valid JSON")
	}
	cur := root
	if path != "" && path != "$" {
		for _, segment := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
			if segment == "" {
				continue
			}
			obj, ok := cur.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("path %q does not resolve to an object at %q", path, segment)
			}
			next, ok := obj[segment]
			if !ok {
				return nil, fmt.Errorf("path %q: no such field %q", path, segment)
			}
			cur = next
		}
	}
	arr, ok := cur.([]interface{})
	if !ok {
		return nil, fmt.Errorf("path %q does not resolve to an array", path)
	}
	return arr, nil
}

func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
