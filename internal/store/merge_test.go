package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"bank_details": map[string]any{
			"account_number": "111",
			"ifsc":           "HDFC0001234",
		},
		"documents_path": "/uploads/a",
	}
	changed := DeepMerge(dst, map[string]any{
		"bank_details": map[string]any{"account_number": "222"},
		"api_key":      "sk_new",
	})

	assert.Equal(t, 2, changed)
	bank := dst["bank_details"].(map[string]any)
	assert.Equal(t, "222", bank["account_number"])
	// Siblings not named in the partial are untouched.
	assert.Equal(t, "HDFC0001234", bank["ifsc"])
	assert.Equal(t, "/uploads/a", dst["documents_path"])
	assert.Equal(t, "sk_new", dst["api_key"])
}

func TestDeepMergeIgnoresNilAndEmpty(t *testing.T) {
	dst := map[string]any{"a": "keep", "b": map[string]any{"c": 1}}
	changed := DeepMerge(dst, map[string]any{
		"a": "",
		"b": map[string]any{},
		"d": nil,
	})
	assert.Equal(t, 0, changed)
	assert.Equal(t, "keep", dst["a"])
	assert.NotContains(t, dst, "d")
}

func TestDeepMergeIdenticalValuesNoChange(t *testing.T) {
	dst := map[string]any{"a": "same", "n": float64(3)}
	changed := DeepMerge(dst, map[string]any{"a": "same", "n": float64(3)})
	assert.Equal(t, 0, changed)
}

func TestDeepMergeCreatesMissingBranch(t *testing.T) {
	dst := map[string]any{}
	changed := DeepMerge(dst, map[string]any{
		"signatory_details": map[string]any{"email": "a@b.c"},
	})
	assert.Equal(t, 1, changed)
	assert.Equal(t, "a@b.c", dst["signatory_details"].(map[string]any)["email"])
}

func TestDeepMergeReplacesNonMapWithMap(t *testing.T) {
	dst := map[string]any{"meta": "scalar"}
	changed := DeepMerge(dst, map[string]any{"meta": map[string]any{"k": "v"}})
	assert.Equal(t, 1, changed)
	assert.Equal(t, "v", dst["meta"].(map[string]any)["k"])
}
