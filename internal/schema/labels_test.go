package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey/internal/domain"
	"survey/internal/schema"
)

func TestLabels(t *testing.T) {
	defs := []domain.QuestionDef{
		{Position: 0, Text: "Color"},
		{Position: 3, Text: "Age"},
	}

	assert.Equal(t, []string{"Color", "Age"}, schema.Labels(defs, schema.LabelPlain))
	assert.Equal(t, []string{"00. Color", "03. Age"}, schema.Labels(defs, schema.LabelIndexed))
	assert.Equal(t, []string{"1. Color", "2. Age"}, schema.Labels(defs, schema.LabelNumbered))
}

func TestLabels_PlainCollisionsFallBackToIndexed(t *testing.T) {
	defs := []domain.QuestionDef{
		{Position: 0, Text: "Why?"},
		{Position: 1, Text: "Name"},
		{Position: 2, Text: "Why?"},
		{Position: 3, Text: "session"},
	}
	got := schema.Labels(defs, schema.LabelPlain)
	assert.Equal(t, []string{"00. Why?", "Name", "02. Why?", "03. session"}, got)
}

func TestParseLabelStyle(t *testing.T) {
	s, err := schema.ParseLabelStyle("")
	require.NoError(t, err)
	assert.Equal(t, schema.LabelPlain, s)

	s, err = schema.ParseLabelStyle("indexed")
	require.NoError(t, err)
	assert.Equal(t, schema.LabelIndexed, s)

	_, err = schema.ParseLabelStyle("roman")
	assert.Error(t, err)
}
