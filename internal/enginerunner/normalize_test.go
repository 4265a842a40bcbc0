package enginerunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLine_CRHandling(t *testing.T) {
	assert.Equal(t, "a\nb", NormalizeLine("a\rb"))
	assert.Equal(t, "a\nb", NormalizeLine("a\r\nb"))
}

func TestNormalizeLine_OverwriteCollapsesToLastSegment(t *testing.T) {
	assert.Equal(t, "100%\n", NormalizeLine("10%\r50%\r100%\n"))
}

func TestNormalizeLine_CollapsesExcessBlankLines(t *testing.T) {
	assert.Equal(t, "a\n\nb", NormalizeLine("a\n\n\n\nb"))
}

func TestStripANSI_RemovesEscapeSequences(t *testing.T) {
	assert.Equal(t, "hello", StripANSI("\x1b[31mhello\x1b[0m"))
	assert.Equal(t, "plain", StripANSI("plain"))
}
