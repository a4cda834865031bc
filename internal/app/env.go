package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/armclient"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

// Env keys holding service principal credentials.
const (
	EnvTenantID     = "tenantId"
	EnvClientID     = "client_id"
	EnvClientSecret = "client_secret"
)

// LoadEnv reads a JSON or YAML map of variables from path. An empty path
// yields an empty map.
func LoadEnv(fs ports.FileSystem, path string) (map[string]any, error) {
	env := map[string]any{}
	if path == "" {
		return env, nil
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	if env == nil {
		env = map[string]any{}
	}
	return env, nil
}

// MergeVars applies command-line overrides to env.
func MergeVars(env map[string]any, vars map[string]string) map[string]any {
	out := make(map[string]any, len(env)+len(vars))
	for k, v := range env {
		out[k] = v
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// CredentialsFrom reads service principal credentials from env, falling
// back to the AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET
// process variables.
func CredentialsFrom(env map[string]any, authority string) armclient.Credentials {
	get := func(key, fallback string) string {
		if s, ok := env[key].(string); ok && s != "" {
			return s
		}
		return os.Getenv(fallback)
	}
	return armclient.Credentials{
		Authority:    authority,
		TenantID:     get(EnvTenantID, "AZURE_TENANT_ID"),
		ClientID:     get(EnvClientID, "AZURE_CLIENT_ID"),
		ClientSecret: get(EnvClientSecret, "AZURE_CLIENT_SECRET"),
	}
}
