package defaults

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/shaiso/Stashflow/internal/domain"
)

func TestIsEmpty(t *testing.T) {
	var nilPtr *string
	blank := "   "
	word := "x"

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"false", false, true},
		{"true", true, false},
		{"zero int", 0, true},
		{"zero float", 0.0, true},
		{"non-zero float", 1.5, false},
		{"empty slice", []any{}, true},
		{"empty string slice", []string{}, true},
		{"non-empty slice", []any{"a"}, false},
		{"blank string", "  ", true},
		{"string", "x", false},
		{"empty map", map[string]any{}, true},
		{"nil pointer", nilPtr, true},
		{"pointer to blank", &blank, true},
		{"pointer to word", &word, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmpty(tt.value))
		})
	}
}

func TestApply_OverwriteAndApplyIfEmpty(t *testing.T) {
	a := &domain.Automation{ID: uuid.New()}
	fields := map[string]any{
		"title":    "Sunset",
		"tags":     []any{},
		"isMature": false,
		"category": "digitalart",
	}
	values := []domain.DefaultValue{
		{FieldName: "title", Value: "Default title", ApplyIfEmpty: true},
		{FieldName: "tags", Value: []any{"art"}, ApplyIfEmpty: true},
		{FieldName: "isMature", Value: true, ApplyIfEmpty: true},
		{FieldName: "category", Value: "photography", ApplyIfEmpty: false},
		{FieldName: "", Value: "ignored"},
	}

	out := Apply(fields, a, values)

	assert.Equal(t, "Sunset", out["title"])
	assert.Equal(t, []any{"art"}, out["tags"])
	assert.Equal(t, true, out["isMature"])
	assert.Equal(t, "photography", out["category"])
	assert.NotContains(t, out, "")

	// исходная map не тронута
	assert.Equal(t, "digitalart", fields["category"])
	assert.NotContains(t, fields, FieldStashOnly)
}

func TestApply_SaleQueueProtectionsWinOverDefaults(t *testing.T) {
	preset := uuid.New()
	a := &domain.Automation{AutoAddToSaleQueue: true, SaleQueuePricePresetID: &preset}
	values := []domain.DefaultValue{
		{FieldName: FieldAddWatermark, Value: false},
		{FieldName: FieldAllowFreeDownload, Value: true},
	}

	out := Apply(map[string]any{FieldDisplayResolution: 0}, a, values)

	assert.Equal(t, HighestDisplayResolution, out[FieldDisplayResolution])
	assert.Equal(t, true, out[FieldAddWatermark])
	assert.Equal(t, false, out[FieldAllowFreeDownload])
}

func TestApply_SaleQueueKeepsExplicitResolution(t *testing.T) {
	preset := uuid.New()
	a := &domain.Automation{AutoAddToSaleQueue: true, SaleQueuePricePresetID: &preset}

	out := Apply(map[string]any{FieldDisplayResolution: 3}, a, nil)
	assert.Equal(t, 3, out[FieldDisplayResolution])
}

func TestApply_SaleQueueWithoutPresetIsIgnored(t *testing.T) {
	a := &domain.Automation{AutoAddToSaleQueue: true}

	out := Apply(map[string]any{}, a, nil)
	assert.NotContains(t, out, FieldAddWatermark)
	assert.NotContains(t, out, FieldDisplayResolution)
}

func TestApply_StashOnly(t *testing.T) {
	a := &domain.Automation{StashOnlyByDefault: true}

	assert.Equal(t, true, Apply(nil, a, nil)[FieldStashOnly])
	assert.Equal(t, true, Apply(map[string]any{FieldStashOnly: nil}, a, nil)[FieldStashOnly])
	assert.Equal(t, false, Apply(map[string]any{FieldStashOnly: false}, a, nil)[FieldStashOnly], "explicit false is kept")
}
