package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/srg/blecentral/pkg/central"
)

// PresencePlaceholder in expected JSON matches any actual value under the same key.
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys that appear only in actual.
	IgnoreExtraKeys bool `default:"true"`
	// NilToEmptyArray treats null and [] as equal.
	NilToEmptyArray bool `default:"true"`
	// AllowPresencePlaceholder enables PresencePlaceholder.
	AllowPresencePlaceholder bool `default:"true"`
	// IgnoredFields are removed from both sides at any depth.
	IgnoredFields []string
	// IgnoreArrayOrder compares arrays as multisets.
	IgnoreArrayOrder bool `default:"false"`
}

type Option func(*JSONAssertOptions)

func WithIgnoreExtraKeys(v bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = v }
}

func WithNilToEmptyArray(v bool) Option {
	return func(o *JSONAssertOptions) { o.NilToEmptyArray = v }
}

func WithAllowPresencePlaceholder(v bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = v }
}

func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

func WithIgnoreArrayOrder(v bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = v }
}

// JSONAsserter compares JSON documents structurally and reports an ASCII diff.
type JSONAsserter struct {
	t       testing.TB
	options JSONAssertOptions
}

func NewJSONAsserter(t testing.TB) *JSONAsserter {
	var opts JSONAssertOptions
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) Options() JSONAssertOptions { return ja.options }

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertValue marshals actual and compares it.
func (ja *JSONAsserter) AssertValue(actual any, expectedJSON string) bool {
	ja.t.Helper()
	return ja.Assert(MustJSON(actual), expectedJSON)
}

// AssertDevice compares the discovered GATT database of a connected device.
func (ja *JSONAsserter) AssertDevice(ctx context.Context, d *central.Device, expectedJSON string) bool {
	ja.t.Helper()
	return ja.Assert(DeviceToJSON(ctx, d), expectedJSON)
}

// Diff returns an empty string on match, otherwise a readable difference.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root.
	_, expArr := expected.([]any)
	_, actArr := actual.([]any)
	if expArr || actArr {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPresence(expected, actual)
	}
	if ja.options.NilToEmptyArray {
		expected = nilToEmpty(expected)
		actual = nilToEmpty(actual)
	}
	// Ignored fields must go before sorting or they would influence the order.
	for _, f := range ja.options.IgnoredFields {
		dropKey(expected, f)
		dropKey(actual, f)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expBytes, _ := json.Marshal(expected)
	actBytes, _ := json.Marshal(actual)
	d, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	var left map[string]any
	_ = json.Unmarshal(expBytes, &left)
	out, err := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(d)
	if err != nil {
		return fmt.Sprintf("JSON differs, formatting failed: %v", err)
	}
	return out
}

func fillPresence(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillPresence(v, act[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range min(len(exp), len(act)) {
			fillPresence(exp[i], act[i])
		}
	}
}

func nilToEmpty(v any) any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case map[string]any:
		for k, e := range t {
			t[k] = nilToEmpty(e)
		}
	case []any:
		for i, e := range t {
			if e != nil {
				t[i] = nilToEmpty(e)
			}
		}
	}
	return v
}

func dropKey(v any, key string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, key)
		for _, e := range t {
			dropKey(e, key)
		}
	case []any:
		for _, e := range t {
			dropKey(e, key)
		}
	}
}

func pruneExtraKeys(actual, expected any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, ok := exp[k]; !ok {
				delete(act, k)
			}
		}
		for k, v := range exp {
			pruneExtraKeys(act[k], v)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range min(len(exp), len(act)) {
			pruneExtraKeys(act[i], exp[i])
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements.
func sortArrays(v any) {
	switch t := v.(type) {
	case map[string]any:
		for _, e := range t {
			sortArrays(e)
		}
	case []any:
		for _, e := range t {
			sortArrays(e)
		}
		slices.SortStableFunc(t, func(a, b any) int {
			ja, _ := json.Marshal(a)
			jb, _ := json.Marshal(b)
			switch {
			case string(ja) < string(jb):
				return -1
			case string(ja) > string(jb):
				return 1
			}
			return 0
		})
	}
}
