package models

import (
	"encoding/json"
	"testing"
)

func TestJobStatusCanTransitionValidEdges(t *testing.T) {
	cases := []struct {
		from, to JobStatus
	}{
		{JobStatusProposed, JobStatusNegotiating},
		{JobStatusProposed, JobStatusAgreed},
		{JobStatusProposed, JobStatusCancelled},
		{JobStatusNegotiating, JobStatusAgreed},
		{JobStatusNegotiating, JobStatusCancelled},
		{JobStatusAgreed, JobStatusFunded},
		{JobStatusAgreed, JobStatusCancelled},
		{JobStatusFunded, JobStatusInProgress},
		{JobStatusInProgress, JobStatusDelivered},
		{JobStatusInProgress, JobStatusFailed},
		{JobStatusDelivered, JobStatusVerifying},
		{JobStatusDelivered, JobStatusFailed},
		{JobStatusDelivered, JobStatusCompleted},
		{JobStatusVerifying, JobStatusCompleted},
		{JobStatusVerifying, JobStatusFailed},
		{JobStatusFailed, JobStatusDisputed},
		{JobStatusDisputed, JobStatusResolved},
	}
	for _, c := range cases {
		if !c.from.CanTransition(c.to) {
			t.Errorf("CanTransition(%s -> %s) = false, want true", c.from, c.to)
		}
	}
}

func TestJobStatusCanTransitionInvalidEdges(t *testing.T) {
	cases := []struct {
		from, to JobStatus
	}{
		{JobStatusProposed, JobStatusFunded},
		{JobStatusProposed, JobStatusInProgress},
		{JobStatusFunded, JobStatusCancelled},
		{JobStatusFunded, JobStatusAgreed},
		{JobStatusInProgress, JobStatusCompleted},
		{JobStatusVerifying, JobStatusDisputed},
		{JobStatusCompleted, JobStatusDisputed},
		{JobStatusResolved, JobStatusCompleted},
		{JobStatusCancelled, JobStatusProposed},
		{JobStatusDisputed, JobStatusFailed},
	}
	for _, c := range cases {
		if c.from.CanTransition(c.to) {
			t.Errorf("CanTransition(%s -> %s) = true, want false", c.from, c.to)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusResolved, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
		if s.CanTransition(JobStatusProposed) {
			t.Errorf("%s should have no outgoing edges", s)
		}
	}

	nonTerminal := []JobStatus{
		JobStatusProposed, JobStatusNegotiating, JobStatusAgreed, JobStatusFunded,
		JobStatusInProgress, JobStatusDelivered, JobStatusVerifying, JobStatusFailed,
		JobStatusDisputed,
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestValidateMaxRounds(t *testing.T) {
	if err := ValidateMaxRounds(0); err == nil {
		t.Error("expected error for maxRounds below minimum")
	}
	if err := ValidateMaxRounds(MinMaxRounds); err != nil {
		t.Errorf("unexpected error at minimum: %v", err)
	}
	if err := ValidateMaxRounds(MaxMaxRounds); err != nil {
		t.Errorf("unexpected error at maximum: %v", err)
	}
	if err := ValidateMaxRounds(MaxMaxRounds + 1); err == nil {
		t.Error("expected error for maxRounds above maximum")
	}
}

func TestHashAcceptanceCriteriaIsOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"a": 1, "b": 2}`)
	b := json.RawMessage(`{"b": 2, "a": 1}`)

	hashA, err := HashAcceptanceCriteria(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := HashAcceptanceCriteria(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Errorf("hashes differ for semantically equal criteria: %s vs %s", hashA, hashB)
	}

	c := json.RawMessage(`{"a": 1, "b": 3}`)
	hashC, err := HashAcceptanceCriteria(c)
	if err != nil {
		t.Fatalf("hash c: %v", err)
	}
	if hashA == hashC {
		t.Error("hashes match for different criteria")
	}
}

func TestJobVerifyAcceptanceCriteriaHash(t *testing.T) {
	j := &Job{AcceptanceCriteriaHash: "abc123"}
	if !j.VerifyAcceptanceCriteriaHash("abc123") {
		t.Error("expected matching hash to verify")
	}
	if j.VerifyAcceptanceCriteriaHash("wrong") {
		t.Error("expected mismatched hash to fail verification")
	}

	empty := &Job{}
	if empty.VerifyAcceptanceCriteriaHash("") {
		t.Error("empty stored hash must never verify, even against an empty candidate")
	}
}

func TestJobMarshalJSONRedactsResultBeforeCompletion(t *testing.T) {
	j := Job{
		ID:                "job-1",
		Status:            JobStatusVerifying,
		DeliverableResult: json.RawMessage(`{"secret": "value"}`),
	}
	out, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["result"]; present {
		t.Errorf("result leaked before job reached completed: %s", out)
	}
}

func TestJobMarshalJSONExposesResultOnlyWhenCompleted(t *testing.T) {
	j := Job{
		ID:                "job-1",
		Status:            JobStatusCompleted,
		DeliverableResult: json.RawMessage(`{"artifact": "url"}`),
	}
	out, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	result, present := decoded["result"]
	if !present {
		t.Fatal("expected result to be present once job is completed")
	}
	if string(result) != `{"artifact":"url"}` {
		t.Errorf("result = %s, want {\"artifact\":\"url\"}", result)
	}
}
