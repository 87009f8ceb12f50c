// Package logx is pepe's structured logging.
//
// Logger wraps zerolog with typed Field helpers; its zero value discards
// everything so components can take one by value without nil checks.
// Service owns the sinks (console, JSON file, operator chat) and can swap
// them at runtime when the config is reloaded.
package logx
