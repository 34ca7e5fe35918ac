package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", "Here is the result:\n{\"a\":1}", `{"a":1}`},
		{"trailing prose", `{"a":1}` + "\nLet me know if you need more.", `{"a":1}`},
		{"fence with prose around", "Sure!\n```json\n{\"a\": {\"b\": 2}}\n```\nDone.", `{"a": {"b": 2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	_, err := extractJSON("I could not read the transcript at all.")
	assert.Error(t, err)
}

func TestParseInto(t *testing.T) {
	var p GradesPayload
	resp := "```json\n{\"courses\":[{\"name\":\"Chemistry\",\"grade\":\"A\",\"level\":\"ap\"}],\"gpa_reported\":\"3.9\"}\n```"
	require.NoError(t, parseInto(resp, &p))
	require.Len(t, p.Courses, 1)
	assert.Equal(t, "Chemistry", p.Courses[0].Name)
	assert.Equal(t, "3.9", p.GPAReported)

	assert.Error(t, parseInto("```json\n{broken\n```", &p))
}
