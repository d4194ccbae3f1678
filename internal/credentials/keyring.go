package credentials

import (
	"github.com/zalando/go-keyring"
)

const serviceName = "zag"

// ErrNotFound is returned when no key is stored for an LLM.
var ErrNotFound = keyring.ErrNotFound

// Set stores the API key for the named LLM in the OS keyring.
func Set(llmName, apiKey string) error {
	return keyring.Set(serviceName, key(llmName), apiKey)
}

// Get returns the API key stored for the named LLM.
func Get(llmName string) (string, error) {
	return keyring.Get(serviceName, key(llmName))
}

// Delete removes the stored API key for the named LLM.
func Delete(llmName string) error {
	return keyring.Delete(serviceName, key(llmName))
}

func key(llmName string) string {
	return "llm." + llmName + ".api_key"
}
