package executor

import "github.com/caffeineduck/rurema/language/ruby"

// Interpreter describes how to invoke the interpreter binary held by the
// module cache.
type Interpreter interface {
	// Name identifies the interpreter in logs (e.g., "ruby").
	Name() string

	// ArtifactPath is the logical path of the binary under an artifact root.
	ArtifactPath() string

	// Args returns the command line for running code, with code passed as a
	// single argument. For Ruby: []string{"ruby", "-e", code}
	Args(code string) []string
}

var _ Interpreter = (*ruby.Ruby)(nil)
