package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("GOCHDK_TEST_VAR", "value1")

	s := ReplaceEnvVars("${GOCHDK_TEST_VAR} ${GOCHDK_TEST_MISSING:default} ${GOCHDK_TEST_MISSING}")
	require.Equal(t, "value1 default ${GOCHDK_TEST_MISSING}", s)
}
