// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package polygonmodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidProblemCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"simple lowercase", "abc123", true},
		{"empty", "", false},
		{"uppercase rejected", "ABC", false},
		{"hyphen rejected", "abc-123", false},
		{"max length", "abcdefghij1234567890", true},
		{"too long", "abcdefghij12345678901", false},
		{"unicode rejected", "проблема", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidProblemCode(tt.code))
		})
	}
}

func TestTestItem_MarshalSingle(t *testing.T) {
	item := TestItem{Single: &SingleTest{In: "tests/01", Out: "tests/01.a", Points: 25}}

	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{"in":"tests/01","out":"tests/01.a","points":25}`, string(data))
}

func TestTestItem_MarshalBatch(t *testing.T) {
	item := TestItem{Batch: &BatchTest{
		Batched:      []BatchEntry{{In: "tests/01", Out: "tests/01.a"}, {In: "tests/02", Out: "tests/02.a"}},
		Points:       50,
		Dependencies: []int{0},
	}}

	data, err := json.Marshal(item)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Contains(t, got, "batched")
	assert.NotContains(t, got, "in", "batch output should not carry a top-level in field")
}

func TestTestItem_MarshalError(t *testing.T) {
	_, err := json.Marshal(TestItem{})
	assert.Error(t, err)
}

func TestTestItem_UnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"single", `{"in":"a","out":"b","points":10}`},
		{"batch", `{"batched":[{"in":"a","out":"b"}],"points":30,"dependencies":[0,1]}`},
		{"batch no deps", `{"batched":[{"in":"a","out":"b"}],"points":30}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item TestItem
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &item))

			wantBatch := tt.name != "single"
			assert.Equal(t, wantBatch, item.Batch != nil, "decoded variant mismatch")

			data, err := json.Marshal(item)
			require.NoError(t, err)
			assert.JSONEq(t, tt.raw, string(data))
		})
	}
}

func TestProblemConfig_OmitsNullFields(t *testing.T) {
	cfg := ProblemConfig{
		Archive:   "polygon-r5-20260101.zip",
		TestCases: []TestItem{{Single: &SingleTest{In: "a", Out: "b", Points: 1}}},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	for _, field := range []string{"pretest_test_cases", "checker", "interactive", "unbuffered", "hints"} {
		assert.NotContains(t, got, field, "Marshal() should omit unset field %q", field)
	}
}

func TestProblemConfig_UnbufferedFalseIsNotOmitted(t *testing.T) {
	f := false
	cfg := ProblemConfig{Archive: "a.zip", Unbuffered: &f}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Contains(t, got, "unbuffered", "Marshal() should keep an explicit false Unbuffered value")
	assert.Equal(t, false, got["unbuffered"])
}
