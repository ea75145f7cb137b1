package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PERFSCOPE_TEST_VAR", "hello")
	t.Setenv("PERFSCOPE_EMPTY_VAR", "")

	t.Run("BasicSubstitution", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: ${PERFSCOPE_TEST_VAR}")
		require.NoError(t, err)
		assert.Equal(t, "value: hello", result)
	})

	t.Run("UnsetVariableIsEmpty", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: ${PERFSCOPE_DOES_NOT_EXIST}")
		require.NoError(t, err)
		assert.Equal(t, "value: ", result)
	})

	t.Run("DefaultValue", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: ${PERFSCOPE_DOES_NOT_EXIST:-fallback}")
		require.NoError(t, err)
		assert.Equal(t, "value: fallback", result)
	})

	t.Run("DefaultNotUsedWhenSet", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: ${PERFSCOPE_TEST_VAR:-fallback}")
		require.NoError(t, err)
		assert.Equal(t, "value: hello", result)
	})

	t.Run("RequiredVariableSet", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: ${PERFSCOPE_TEST_VAR:?must be set}")
		require.NoError(t, err)
		assert.Equal(t, "value: hello", result)
	})

	t.Run("RequiredVariableMissing", func(t *testing.T) {
		_, err := SubstituteEnvVars("value: ${PERFSCOPE_EMPTY_VAR:?controller password required}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "controller password required")
	})

	t.Run("RequiredVariableMissingDefaultMessage", func(t *testing.T) {
		_, err := SubstituteEnvVars("value: ${PERFSCOPE_EMPTY_VAR:?}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PERFSCOPE_EMPTY_VAR")
	})

	t.Run("EscapedReference", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: $${PERFSCOPE_TEST_VAR}")
		require.NoError(t, err)
		assert.Equal(t, "value: ${PERFSCOPE_TEST_VAR}", result)
	})

	t.Run("UnclosedReferencePassesThrough", func(t *testing.T) {
		result, err := SubstituteEnvVars("value: ${PERFSCOPE_TEST_VAR")
		require.NoError(t, err)
		assert.Equal(t, "value: ${PERFSCOPE_TEST_VAR", result)
	})

	t.Run("MultipleReferences", func(t *testing.T) {
		result, err := SubstituteEnvVars("${PERFSCOPE_TEST_VAR}-${PERFSCOPE_DOES_NOT_EXIST:-x}-${PERFSCOPE_TEST_VAR}")
		require.NoError(t, err)
		assert.Equal(t, "hello-x-hello", result)
	})

	t.Run("NoReferences", func(t *testing.T) {
		result, err := SubstituteEnvVars("plain content")
		require.NoError(t, err)
		assert.Equal(t, "plain content", result)
	})
}
