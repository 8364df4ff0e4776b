package pycode

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `import math

TAU = 2 * math.pi


def area(r):
    return math.pi * r * r


@lru_cache
def cached_area(r):
    return area(r)


class Circle:
    def __init__(self, r):
        self.r = r

    def area(self):
        return area(self.r)
`

func TestSplicer_Functions(t *testing.T) {
	s := NewSplicer()

	regions, err := s.Functions(context.Background(), []byte(sample))
	require.NoError(t, err)

	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"area", "cached_area", "Circle.__init__", "Circle.area"}, names)
}

func TestSplicer_Locate_QualifiedBeatsBare(t *testing.T) {
	s := NewSplicer()

	top, err := s.Locate(context.Background(), []byte(sample), "area")
	require.NoError(t, err)
	assert.Equal(t, "area", top.Name)

	method, err := s.Locate(context.Background(), []byte(sample), "Circle.area")
	require.NoError(t, err)
	assert.Equal(t, "Circle.area", method.Name)
	assert.Greater(t, method.StartLine, top.StartLine)
}

func TestSplicer_Locate_BareMethodName(t *testing.T) {
	s := NewSplicer()

	r, err := s.Locate(context.Background(), []byte(sample), "__init__")
	require.NoError(t, err)
	assert.Equal(t, "Circle.__init__", r.Name)
}

func TestSplicer_Locate_Missing(t *testing.T) {
	s := NewSplicer()

	_, err := s.Locate(context.Background(), []byte(sample), "perimeter")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegionNotFound)
}

func TestSplicer_Locate_DecoratedIncludesDecorator(t *testing.T) {
	s := NewSplicer()

	r, err := s.Locate(context.Background(), []byte(sample), "cached_area")
	require.NoError(t, err)

	text := sample[r.StartByte:r.EndByte]
	assert.True(t, strings.HasPrefix(text, "@lru_cache"), "region spans the decorator")
}

func TestSplicer_Replace_TopLevel(t *testing.T) {
	s := NewSplicer()

	out, err := s.Replace(context.Background(), []byte(sample), "area",
		"def area(r):\n    return math.tau * r * r / 2\n")
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "math.tau * r * r / 2")
	assert.NotContains(t, text, "return math.pi * r * r")
	assert.Contains(t, text, "class Circle:", "rest of the file survives")

	// The result still parses and keeps the same function inventory.
	regions, err := s.Functions(context.Background(), out)
	require.NoError(t, err)
	assert.Len(t, regions, 4)
}

func TestSplicer_Replace_Method(t *testing.T) {
	s := NewSplicer()

	out, err := s.Replace(context.Background(), []byte(sample), "Circle.area",
		"def area(self):\n        return cached_area(self.r)")
	require.NoError(t, err)

	assert.Contains(t, string(out), "cached_area(self.r)")
	assert.Contains(t, string(out), "def area(r):", "top-level function untouched")
}

func TestSplicer_Replace_Missing(t *testing.T) {
	s := NewSplicer()

	_, err := s.Replace(context.Background(), []byte(sample), "nope", "def nope(): pass")
	assert.ErrorIs(t, err, ErrRegionNotFound)
}
