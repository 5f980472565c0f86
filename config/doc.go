// Package config loads and validates the runtime configuration of the
// memory service. Values come from three layers applied in order:
// built-in defaults, an optional YAML file, then environment variables
// with the AGENTMEMORY prefix. Section structs mirror the constructor
// configs of the packages they feed; wiring happens in the binary, not
// here, so the package stays import-free of the rest of the module.
package config
