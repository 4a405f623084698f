package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
)

func mustTest(t *testing.T, id string, typ TestType, params string) Test {
	t.Helper()
	return Test{TestID: id, Type: typ, Params: json.RawMessage(params)}
}

func TestValidateDeclarativeRejectsTooManyTests(t *testing.T) {
	var tests []Test
	for i := 0; i < 21; i++ {
		tests = append(tests, mustTest(t, fmt.Sprintf("t%d", i), TestContains, `{"value":"x"}`))
	}
	c := DeclarativeCriteria{Tests: tests, PassThreshold: PassThreshold{Mode: "all"}}
	if err := ValidateDeclarative(c); err == nil {
		t.Fatal("expected an error for exceeding the 20 test cap")
	}
}

func TestRunDeclarativeAllPassThreshold(t *testing.T) {
	c := DeclarativeCriteria{
		Tests: []Test{
			mustTest(t, "t1", TestContains, `{"value":"hello"}`),
			mustTest(t, "t2", TestCountGTE, `{"path":"items","count":2}`),
		},
		PassThreshold: PassThreshold{Mode: "all"},
	}
	deliverable := json.RawMessage(`{"message":"hello world","items":[1,2,3]}`)
	passed, results := RunDeclarative(c, deliverable, 0, 0)
	if !passed {
		t.Fatalf("expected suite to pass, got results: %+v", results)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestRunDeclarativeMajorityThreshold(t *testing.T) {
	c := DeclarativeCriteria{
		Tests: []Test{
			mustTest(t, "t1", TestContains, `{"value":"hello"}`),
			mustTest(t, "t2", TestContains, `{"value":"nonexistent"}`),
			mustTest(t, "t3", TestContains, `{"value":"world"}`),
		},
		PassThreshold: PassThreshold{Mode: "majority"},
	}
	deliverable := json.RawMessage(`{"message":"hello world"}`)
	passed, _ := RunDeclarative(c, deliverable, 0, 0)
	if !passed {
		t.Fatal("expected 2-of-3 to satisfy majority")
	}
}

func TestChecksumTest(t *testing.T) {
	deliverable := json.RawMessage(`{"b":2,"a":1}`)
	canonical, _ := canonicalizeJSON(deliverable)
	rawSum := sha256.Sum256(canonical)
	sum := hex.EncodeToString(rawSum[:])

	c := DeclarativeCriteria{
		Tests:         []Test{mustTest(t, "cksum", TestChecksum, `{"expected":"`+sum+`"}`)},
		PassThreshold: PassThreshold{Mode: "all"},
	}
	passed, results := RunDeclarative(c, deliverable, 0, 0)
	if !passed {
		t.Fatalf("expected checksum match, got %+v", results)
	}
}

func TestAssertionTest(t *testing.T) {
	deliverable := json.RawMessage(`{"count":5}`)
	c := DeclarativeCriteria{
		Tests:         []Test{mustTest(t, "assert1", TestAssertion, `{"expression":"output.count > 3"}`)},
		PassThreshold: PassThreshold{Mode: "all"},
	}
	if err := ValidateDeclarative(c); err != nil {
		t.Fatalf("ValidateDeclarative: %v", err)
	}
	passed, results := RunDeclarative(c, deliverable, 0, 0)
	if !passed {
		t.Fatalf("expected assertion to pass, got %+v", results)
	}
}

func TestAssertionRejectsOverlongExpression(t *testing.T) {
	expr := ""
	for i := 0; i < 600; i++ {
		expr += "a"
	}
	c := DeclarativeCriteria{
		Tests:         []Test{mustTest(t, "assert1", TestAssertion, `{"expression":"`+expr+`"}`)},
		PassThreshold: PassThreshold{Mode: "all"},
	}
	if err := ValidateDeclarative(c); err == nil {
		t.Fatal("expected rejection of an over-length assertion expression")
	}
}
