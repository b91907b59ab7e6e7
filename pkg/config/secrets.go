package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"

	"genforge/pkg/logx"
)

// Secrets file format: [salt][nonce][ciphertext+tag].
const (
	saltSize  = 16
	nonceSize = 12
	scryptN   = 32768 // 2^15
	scryptR   = 8
	scryptP   = 1
	keySize   = 32 // AES-256
	gcmTag    = 16
)

//nolint:gochecknoglobals // in-memory secrets store
var (
	decryptedSecrets    map[string]string
	decryptedSecretsMux sync.RWMutex
)

// SetDecryptedSecrets replaces the in-memory secrets.
func SetDecryptedSecrets(secrets map[string]string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	decryptedSecrets = secrets
}

// GetSecret returns a secret value by name, checking the decrypted secrets
// file first and the environment second.
func GetSecret(name string) (string, error) {
	decryptedSecretsMux.RLock()
	if value, ok := decryptedSecrets[name]; ok && value != "" {
		decryptedSecretsMux.RUnlock()
		return value, nil
	}
	decryptedSecretsMux.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SecretNames returns the sorted names (not values) of the in-memory secrets.
func SecretNames() []string {
	decryptedSecretsMux.RLock()
	defer decryptedSecretsMux.RUnlock()
	names := make([]string, 0, len(decryptedSecrets))
	for name := range decryptedSecrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetSecret sets a secret value in memory.
func SetSecret(name, value string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	if decryptedSecrets == nil {
		decryptedSecrets = make(map[string]string)
	}
	decryptedSecrets[name] = value
}

// DeleteSecret removes a secret from memory. It reports whether the secret existed.
func DeleteSecret(name string) bool {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	if _, ok := decryptedSecrets[name]; !ok {
		return false
	}
	delete(decryptedSecrets, name)
	return true
}

// ProjectPassword returns the secrets-file password from the environment, or "".
func ProjectPassword() string {
	return os.Getenv(EnvPassword)
}

// SaveSecretsToFile encrypts the in-memory secrets to path.
func SaveSecretsToFile(path, password string) error {
	decryptedSecretsMux.RLock()
	secretsCopy := make(map[string]string, len(decryptedSecrets))
	for k, v := range decryptedSecrets {
		secretsCopy[k] = v
	}
	decryptedSecretsMux.RUnlock()

	return EncryptSecretsFile(path, password, secretsCopy)
}

// SecretsFileExists reports whether path exists.
func SecretsFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadSecrets decrypts path into memory when it exists. The password comes
// from GENFORGE_PASSWORD; without it the file is skipped and env vars are
// used alone.
func LoadSecrets(path string) error {
	if !SecretsFileExists(path) {
		return nil
	}
	password := os.Getenv(EnvPassword)
	if password == "" {
		logx.NewLogger("config").Warn("secrets file %s present but %s is not set; using environment only", path, EnvPassword)
		return nil
	}
	secrets, err := DecryptSecretsFile(path, password)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(secrets)
	return nil
}

func deriveKey(password, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// EncryptSecretsFile encrypts secrets with a scrypt-derived AES-256-GCM key
// and writes them to path with mode 0600.
func EncryptSecretsFile(path, password string, secrets map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(passwordBytes, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer zero(plaintext)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads and decrypts path. Loose permissions are tightened to 0600.
func DecryptSecretsFile(path, password string) (map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		logx.NewLogger("config").Warn("secrets file has permissions %04o, correcting to 0600", info.Mode().Perm())
		if chmodErr := os.Chmod(path, 0600); chmodErr != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+gcmTag {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)
	key, err := deriveKey(passwordBytes, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}
	defer zero(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}
