package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".genforge", "secrets.json.enc")
	secrets := map[string]string{EnvAnthropicAPIKey: "sk-ant", EnvOpenAIAPIKey: "sk-oai"}

	require.NoError(t, EncryptSecretsFile(path, "hunter2", secrets))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := DecryptSecretsFile(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, got)

	_, err = DecryptSecretsFile(path, "wrong")
	assert.ErrorContains(t, err, "wrong password")
}

func TestDecryptFixesPermissionsAndRejectsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json.enc")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))

	_, err := DecryptSecretsFile(path, "pw")
	assert.ErrorContains(t, err, "too small")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("GENFORGE_TEST_SECRET", "from-env")

	SetDecryptedSecrets(nil)
	v, err := GetSecret("GENFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	SetSecret("GENFORGE_TEST_SECRET", "from-file")
	v, err = GetSecret("GENFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	_, err = GetSecret("GENFORGE_MISSING_SECRET")
	assert.Error(t, err)
}

func TestSaveAndLoadSecrets(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	path := filepath.Join(t.TempDir(), "secrets.json.enc")

	SetDecryptedSecrets(nil)
	SetSecret("B_KEY", "b")
	SetSecret("A_KEY", "a")
	assert.Equal(t, []string{"A_KEY", "B_KEY"}, SecretNames())
	require.NoError(t, SaveSecretsToFile(path, "pw"))

	SetDecryptedSecrets(nil)
	t.Setenv(EnvPassword, "pw")
	require.NoError(t, LoadSecrets(path))
	assert.Equal(t, []string{"A_KEY", "B_KEY"}, SecretNames())

	require.NoError(t, LoadSecrets(filepath.Join(t.TempDir(), "absent")))
}

func TestDeleteSecret(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	SetDecryptedSecrets(nil)
	assert.False(t, DeleteSecret("NOPE"))

	SetSecret("GONE", "x")
	assert.True(t, DeleteSecret("GONE"))
	assert.Empty(t, SecretNames())
}
