package testpdf

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_XrefOffsetsPointAtObjects(t *testing.T) {
	data := Build("one", "two (with parens)")

	require.True(t, bytes.HasPrefix(data, []byte("%PDF-1.4")))
	require.True(t, bytes.HasSuffix(data, []byte("%%EOF\n")))

	// 3 shared objects plus a page and a content stream per page
	for n := 1; n <= 7; n++ {
		marker := []byte(fmt.Sprintf("%d 0 obj\n", n))
		off := bytes.Index(data, marker)
		require.GreaterOrEqual(t, off, 0, "object %d", n)
		assert.Contains(t, string(data), fmt.Sprintf("%010d 00000 n \n", off))
	}
	assert.Contains(t, string(data), `(two \(with parens\))`)
}

func TestNum(t *testing.T) {
	assert.Equal(t, "612", num(612))
	assert.Equal(t, "10.5", num(10.5))
}
