// Package credentials resolves namespaced credential keys to secrets.
// Connectors receive the resolved secret at construction; the key names
// are the only thing that ever reaches logs or config files.
package credentials

import (
	"os"
	"strings"
)

// Resolver looks up a secret by its namespaced key, e.g.
// "asura/openai/api_key". The boolean reports whether the key resolved.
type Resolver interface {
	Get(key string) (string, bool)
}

// EnvResolver maps namespaced keys onto environment variables:
// "asura/openai/api_key" becomes ASURA_OPENAI_API_KEY.
type EnvResolver struct{}

func (EnvResolver) Get(key string) (string, bool) {
	name := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(key))
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// StaticResolver serves a fixed key/secret map. Used in tests and for
// config-injected secrets.
type StaticResolver map[string]string

func (r StaticResolver) Get(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
