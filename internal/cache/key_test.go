package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_OrderIndependent(t *testing.T) {
	a := Key([]string{"src/a.py", "src/b.py", "lib/c.js"})
	b := Key([]string{"lib/c.js", "src/a.py", "src/b.py"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKey_NormalizesSeparators(t *testing.T) {
	assert.Equal(t, Key([]string{"src/a.py"}), Key([]string{`src\a.py`}))
}

func TestKey_IgnoresDuplicates(t *testing.T) {
	assert.Equal(t, Key([]string{"a.py", "b.py"}), Key([]string{"b.py", "a.py", "a.py"}))
}

func TestKey_DistinctSets(t *testing.T) {
	assert.NotEqual(t, Key([]string{"a.py"}), Key([]string{"b.py"}))
	assert.NotEqual(t, Key(nil), Key([]string{"a.py"}))
}
