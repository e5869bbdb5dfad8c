// Package ruby provides the Ruby interpreter adapter for rurema.
package ruby

// ArtifactPath is the logical path of the interpreter binary under an
// artifact root.
const ArtifactPath = "/ruby.wasm"

// Ruby implements the executor.Interpreter interface for ruby.wasm.
type Ruby struct{}

// New returns a Ruby interpreter adapter.
func New() *Ruby {
	return &Ruby{}
}

// Name returns "ruby".
func (r *Ruby) Name() string {
	return "ruby"
}

// ArtifactPath returns "/ruby.wasm".
func (r *Ruby) ArtifactPath() string {
	return ArtifactPath
}

// Args passes code as a single -e program argument.
func (r *Ruby) Args(code string) []string {
	return []string{"ruby", "-e", code}
}
