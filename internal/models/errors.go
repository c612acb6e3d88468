package models

// RecoverableError is implemented by any error the CLI output layer should
// render with structured metadata instead of a bare message: a machine
// code, contextual key/value pairs, and a suggested next command.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}
