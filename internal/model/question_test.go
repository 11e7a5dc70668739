package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewQuestionID(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a := NewQuestionID("effectifs ?", 1, 0)
		b := NewQuestionID("effectifs ?", 1, 0)
		assert.Equal(t, a, b)
		assert.Len(t, a, 18)
		assert.Equal(t, "q_", a[:2])
	})

	t.Run("section and occurrence change the id", func(t *testing.T) {
		t.Parallel()
		base := NewQuestionID("effectifs ?", 1, 0)
		assert.NotEqual(t, base, NewQuestionID("effectifs ?", 2, 0))
		assert.NotEqual(t, base, NewQuestionID("effectifs ?", 1, 1))
		assert.NotEqual(t, base, NewQuestionID("materiel ?", 1, 0))
	})
}

func TestParseQuestionType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, QuestionTypeYesNo, ParseQuestionType("YES_NO"))
	assert.Equal(t, QuestionTypeYesNo, ParseQuestionType("boolean"))
	assert.Equal(t, QuestionTypeFreeText, ParseQuestionType("FREE_TEXT"))
	assert.Equal(t, QuestionTypeFreeText, ParseQuestionType("essay"))
	assert.Equal(t, QuestionTypeFreeText, ParseQuestionType(""))
}

func TestQuestion_SectionKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Question{}.SectionKey())
	assert.Equal(t, 3, Question{SectionOrder: IntPtr(3)}.SectionKey())
	assert.False(t, Question{}.Anchored())
	assert.True(t, Question{Anchor: &AnchorPosition{ParagraphIndex: 2}}.Anchored())
}

func TestAnchorPosition_Equal(t *testing.T) {
	t.Parallel()

	plain := AnchorPosition{ParagraphIndex: 4}
	cell := AnchorPosition{ParagraphIndex: 4, Table: &TableCoordinates{TableIndex: 0, RowIndex: 1, CellIndex: 2}}
	sameCell := AnchorPosition{ParagraphIndex: 4, Table: &TableCoordinates{TableIndex: 0, RowIndex: 1, CellIndex: 2}}

	assert.True(t, plain.Equal(AnchorPosition{ParagraphIndex: 4}))
	assert.False(t, plain.Equal(cell))
	assert.True(t, cell.Equal(sameCell))
	assert.False(t, plain.Equal(AnchorPosition{ParagraphIndex: 5}))
}
