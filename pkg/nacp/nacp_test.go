package nacp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCString(buf []byte, s string) {
	copy(buf, s)
}

func TestParseTitleTableAndAnyTitle(t *testing.T) {
	buf := make([]byte, Size)

	// English title is the first programTitleSize-sized slot.
	writeCString(buf[0:titleNameSize], "Super Game")
	writeCString(buf[titleNameSize:titleNameSize+titlePublisherSize], "Acme Co")

	a, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, "Super Game", a.Title[LanguageAmericanEnglish].Name)
	assert.Equal(t, "Acme Co", a.Title[LanguageAmericanEnglish].Publisher)

	title, ok := a.AnyTitle()
	require.True(t, ok)
	assert.Equal(t, "Super Game", title.Name)
}

func TestParseRejectsWrongSize(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	assert.Error(t, err)
}

func TestParseAnyTitleFallsBackWhenFirstLanguageEmpty(t *testing.T) {
	buf := make([]byte, Size)
	japaneseOffset := int(LanguageJapanese) * programTitleSize
	writeCString(buf[japaneseOffset:japaneseOffset+titleNameSize], "ゲーム")

	a, err := Parse(buf)
	require.NoError(t, err)

	title, ok := a.AnyTitle()
	require.True(t, ok)
	assert.Equal(t, "ゲーム", title.Name)
}
