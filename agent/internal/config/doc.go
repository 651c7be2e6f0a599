// Package config loads the shoplens-agent configuration file.
//
// Config{Agent} wraps AgentConfig: the publisher settings (server_endpoint,
// buffer_size, auth{mode, header, key_env, cert_file, key_file, ca_file}),
// input, default_org, drain_timeout and log_level.
//
// Load(path) reads the YAML file, applies defaults (stdin input, buffer 1000,
// 5s drain timeout, info logging), then validates required fields and enums.
package config
