package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/assert"
)

// recordingT captures assertion failures instead of failing the test
type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func (r *recordingT) Failed() bool { return len(r.failures) > 0 }

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		wantDiff bool
	}{
		{
			name:     "extra keys are ignored by default",
			actual:   `{"uuid": "180f", "primary": true, "status": "published"}`,
			expected: `{"uuid": "180f", "status": "published"}`,
		},
		{
			name:     "extra keys reported when not ignored",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"uuid": "180f", "primary": true}`,
			expected: `{"uuid": "180f"}`,
			wantDiff: true,
		},
		{
			name:     "value mismatch",
			actual:   `{"status": "building"}`,
			expected: `{"status": "published"}`,
			wantDiff: true,
		},
		{
			name:     "null matches empty array",
			actual:   `{"descriptors": null}`,
			expected: `{"descriptors": []}`,
		},
		{
			name:     "null does not match empty array when disabled",
			opts:     []Option{WithNilToEmptyArray(false)},
			actual:   `{"descriptors": null}`,
			expected: `{"descriptors": []}`,
			wantDiff: true,
		},
		{
			name:     "presence placeholder accepts any value",
			actual:   `{"requestId": 17, "offset": 0}`,
			expected: `{"requestId": "<<PRESENCE>>", "offset": 0}`,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"offset": 0}`,
			expected: `{"requestId": "<<PRESENCE>>", "offset": 0}`,
			wantDiff: true,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("central")},
			actual:   `{"payload": {"central": "aa:bb", "value": [1]}}`,
			expected: `{"payload": {"central": "cc:dd", "value": [1]}}`,
		},
		{
			name:     "array order matters by default",
			actual:   `["180f", "180d"]`,
			expected: `["180d", "180f"]`,
			wantDiff: true,
		},
		{
			name:     "array order ignored",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `[{"uuid": "180f"}, {"uuid": "180d"}]`,
			expected: `[{"uuid": "180d"}, {"uuid": "180f"}]`,
		},
		{
			name:     "invalid actual JSON",
			actual:   `{`,
			expected: `{}`,
			wantDiff: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).diff(tt.actual, tt.expected)
			if tt.wantDiff {
				assert.NotEmpty(t, diff)
			} else {
				assert.Empty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_AssertServices(t *testing.T) {
	graphs := []peripheral.ServiceGraph{{
		UUID:    "180f",
		Primary: true,
		Status:  peripheral.ServicePublished,
		Characteristics: []peripheral.CharacteristicInfo{{
			UUID:       "2a19",
			Properties: peripheral.PropRead | peripheral.PropNotify,
			Value:      []byte{100},
		}},
	}}

	NewJSONAsserter(t).AssertServices(graphs, `[{
		"uuid": "180f",
		"status": "published",
		"characteristics": [{"uuid": "2a19", "properties": "read,notify", "descriptors": []}]
	}]`)
	NewJSONAsserter(t).AssertServices(nil, `[]`)
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		wantDiff bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb"},
		{name: "different line", actual: "a\nc", expected: "a\nb", wantDiff: true},
		{name: "surrounding space trimmed", opts: []TextOption{WithTrimSpace(true)}, actual: "\n a\nb \n", expected: "a\nb"},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb"},
		{name: "empty lines", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n\nb", expected: "a\nb"},
		{name: "leading whitespace counts", actual: "  a", expected: "a", wantDiff: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewTextAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.wantDiff, rec.Failed(), rec.failures)
		})
	}
}

func TestTextAsserter_ColoredDiff(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).WithOptions(WithEnableColors(true)).Assert("value: 64", "value: 65")

	if assert.Len(t, rec.failures, 1) {
		msg := rec.failures[0]
		assert.Contains(t, msg, "\x1b[", "diff MUST carry ANSI colors")
		assert.True(t, strings.Contains(msg, "value:·64"), "changed lines MUST show whitespace")
	}
}
