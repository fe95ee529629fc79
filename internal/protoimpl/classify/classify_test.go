package classify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandStripsCommentsAndWhitespace(t *testing.T) {
	require.Equal(t, "SELECT", Command("  /* hint */ select 1"))
	require.Equal(t, "INSERT", Command("-- note\nINSERT INTO t VALUES (1)"))
	require.Equal(t, "UNKNOWN", Command("   "))
}

func TestIsWrite(t *testing.T) {
	require.False(t, IsWrite("SELECT"))
	require.False(t, IsWrite("SHOW"))
	require.True(t, IsWrite("INSERT"))
	require.True(t, IsWrite("DROP"))
}

func TestCanonicalizeCollapsesLiteralsAndWhitespace(t *testing.T) {
	a := Canonicalize("SELECT * FROM t WHERE id = 42")
	b := Canonicalize("select  *  from t where id = 7")
	require.Equal(t, a, b)
}

func TestClassifyTouchesSessionState(t *testing.T) {
	c := Classify([]byte("BEGIN"))
	require.True(t, c.TouchesSessionState)

	c = Classify([]byte("SELECT 1"))
	require.False(t, c.TouchesSessionState)
	require.False(t, c.IsWrite)
	require.Equal(t, "SELECT", c.Kind)
}
