package ports

import "github.com/forgesight/eventship/pkg/log"

// Logger is the structured logging interface used throughout the core.
type Logger = log.Logger

// Field is a structured log field.
type Field = log.Field

// Re-exported field constructors so core packages only import ports.
var (
	String   = log.String
	Int      = log.Int
	Int64    = log.Int64
	Bool     = log.Bool
	Duration = log.Duration
	Err      = log.Err
	Any      = log.Any
)
