package extract

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc any
	require.NoError(t, dec.Decode(&doc))
	return doc
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "empty", expr: ""},
		{name: "trailing dot", expr: "price."},
		{name: "leading dot", expr: ".price"},
		{name: "double dot", expr: "a..b"},
		{name: "dollar with trailing dot", expr: "$."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestEval(t *testing.T) {
	doc := decode(t, `{
		"price": "1000000",
		"seller": "0x1",
		"token_metadata": {
			"token": {"vec": [{"inner": "0xabc"}]},
			"collection_name": "Aptos Monkeys"
		},
		"amount": 5,
		"empty_vec": [],
		"nothing": null
	}`)

	tests := []struct {
		name     string
		expr     string
		expected string
		found    bool
	}{
		{name: "top level string", expr: "price", expected: "1000000", found: true},
		{name: "dollar prefix", expr: "$.seller", expected: "0x1", found: true},
		{name: "nested with array index", expr: "token_metadata.token.vec.0.inner", expected: "0xabc", found: true},
		{name: "nested string", expr: "token_metadata.collection_name", expected: "Aptos Monkeys", found: true},
		{name: "number coerced to string", expr: "amount", expected: "5", found: true},
		{name: "missing key", expr: "no_such_key", found: false},
		{name: "index out of range", expr: "empty_vec.0", found: false},
		{name: "json null", expr: "nothing", found: false},
		{name: "index into scalar", expr: "price.0", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)

			got, ok := p.EvalString(doc)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestEvalRoot(t *testing.T) {
	doc := decode(t, `{"a": 1}`)
	p := MustCompile("$")
	v, ok := p.Eval(doc)
	assert.True(t, ok)
	assert.Equal(t, doc, v)
}

func TestEvalNumericObjectKey(t *testing.T) {
	// Some payloads use numeric strings as object keys.
	doc := decode(t, `{"outer": {"0": {"value": "x"}}}`)
	p := MustCompile("outer.0.value")
	got, ok := p.EvalString(doc)
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestLargeU64DoesNotTruncate(t *testing.T) {
	doc := decode(t, `{"price": 18446744073709551615}`)
	p := MustCompile("price")
	got, ok := p.EvalString(doc)
	assert.True(t, ok)
	assert.Equal(t, "18446744073709551615", got)
}
