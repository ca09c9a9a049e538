package config

import "errors"

// ErrUnknownField is returned when a loaded policy contains a top-level or
// section-level key this program does not recognize.
var ErrUnknownField = errors.New("config: unknown field")

// ErrMutuallyExclusiveFlags is returned by the CLI glue when both or neither
// of --config-file/--config-path were given.
var ErrMutuallyExclusiveFlags = errors.New("config: exactly one of --config-file or --config-path is required")
