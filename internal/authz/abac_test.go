// Copyright 2026 The GateKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authz

import "testing"

func sampleAttrs() Attributes {
	return Attributes{
		"subject": map[string]any{
			"id":          "user-1",
			"department":  "engineering",
			"level":       5,
			"permissions": []string{"profile:read"},
			"mfa":         true,
		},
		"resource": map[string]any{
			"type":  "document",
			"id":    "doc-9",
			"owner": "user-1",
		},
		"context": map[string]any{
			"hour":    14,
			"channel": "web",
		},
	}
}

// TestPurpose: Validates condition expressions across operators, literals and references.
// Scope: Unit Test
// Security: Policy conditions gate access decisions
// Expected: Each expression evaluates to its documented truth value.
// Test Case ID: ABC-01
func TestEvalCondition_Expressions(t *testing.T) {
	cases := []struct {
		condition string
		want      bool
	}{
		{`subject.department == 'engineering'`, true},
		{`subject.department == 'sales'`, false},
		{`subject.department != 'sales'`, true},
		{`subject.level > 3`, true},
		{`subject.level >= 5`, true},
		{`subject.level < 5`, false},
		{`subject.level <= 4`, false},
		{`subject.id == resource.owner`, true},
		{`subject.mfa`, true},
		{`!subject.mfa`, false},
		{`true`, true},
		{`false || subject.mfa`, true},
		{`subject.mfa && context.hour < 18`, true},
		{`subject.mfa && context.hour > 18`, false},
		{`(subject.level > 3 || context.channel == 'api') && subject.mfa`, true},
		{`subject.department in ['engineering', 'ops']`, true},
		{`subject.department in ['sales', 'ops']`, false},
		{`'profile:read' in subject.permissions`, true},
		{`'profile:write' in subject.permissions`, false},
		{`context.hour in [13, 14, 15]`, true},
	}

	for _, tc := range cases {
		got, err := EvalCondition(tc.condition, sampleAttrs())
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.condition, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.condition, got, tc.want)
		}
	}
}

// TestPurpose: Validates that unknown attribute references never match anything.
// Scope: Unit Test
// Security: Missing attributes must fail closed, not allow
// Expected: Comparisons against a missing path are false; bare missing refs are errors.
// Test Case ID: ABC-02
func TestEvalCondition_MissingReferences(t *testing.T) {
	attrs := sampleAttrs()

	for _, condition := range []string{
		`subject.clearance == 'secret'`,
		`resource.project.id == 'p-1'`,
		`context.ip == '10.0.0.1'`,
	} {
		got, err := EvalCondition(condition, attrs)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", condition, err)
			continue
		}
		if got {
			t.Errorf("%s: missing reference must not match", condition)
		}
	}

	// A bare reference that is not a boolean is a type error
	if _, err := EvalCondition(`subject.clearance`, attrs); err == nil {
		t.Error("non-boolean condition should be an error")
	}
}

// TestPurpose: Validates that malformed expressions surface errors instead of guessing.
// Scope: Unit Test
// Security: Broken policies must be reported, never silently allow
// Expected: Every malformed input returns an error.
// Test Case ID: ABC-03
func TestEvalCondition_MalformedExpressions(t *testing.T) {
	malformed := []string{
		``,
		`subject.level >`,
		`subject.level > > 3`,
		`(subject.mfa`,
		`subject.level > 'five'`,
		`subject.department in 'engineering'`,
		`subject.mfa && subject.level`,
		`'unterminated`,
		`subject.level @ 3`,
		`subject.mfa extra`,
	}

	for _, condition := range malformed {
		if _, err := EvalCondition(condition, sampleAttrs()); err == nil {
			t.Errorf("%q: expected an error", condition)
		}
	}
}

// TestPurpose: Validates numeric coercion between literal and attribute values.
// Scope: Unit Test
// Security: Type mismatches must not create accidental matches
// Expected: Int attributes compare equal to float literals; numbers never equal strings.
// Test Case ID: ABC-04
func TestEvalCondition_NumericCoercion(t *testing.T) {
	attrs := Attributes{
		"context": map[string]any{"count": 3},
	}

	got, err := EvalCondition(`context.count == 3.0`, attrs)
	if err != nil || !got {
		t.Errorf("int attribute should equal float literal: got %v, err %v", got, err)
	}

	got, err = EvalCondition(`context.count == '3'`, attrs)
	if err != nil || got {
		t.Errorf("number must not equal string: got %v, err %v", got, err)
	}
}
