package config

import "os"

// expandEnv expands ${VAR}/$VAR references in raw YAML content before it
// is parsed, so operators keep RPC credentials and DSNs out of the config
// file itself. Missing variables expand to empty string; Validate below
// catches the required fields that ends up empty.
func expandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
