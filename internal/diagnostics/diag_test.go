package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogKeepsMostRecent(t *testing.T) {
	l := NewLog(3)
	assert.Empty(t, l.List())
	for _, code := range []string{"a", "b", "c", "d"} {
		l.Add(Diagnostic{Severity: Info, Code: code})
	}
	got := l.List()
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].Code)
	assert.Equal(t, "d", got[2].Code)
	assert.False(t, got[0].Time.IsZero())
}

func TestLogSubscribe(t *testing.T) {
	l := NewLog(4)
	var seen []string
	cancel := l.Subscribe(func(d Diagnostic) { seen = append(seen, d.Code) })
	l.Add(Diagnostic{Code: CodeDegraded})
	cancel()
	l.Add(Diagnostic{Code: CodeWriteFailed})
	assert.Equal(t, []string{CodeDegraded}, seen)
}
