package snippet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"leading newline", "\nputs 1", "puts 1"},
		{"only one stripped", "\n\nputs 1", "\nputs 1"},
		{"no newline", "puts 1", "puts 1"},
		{"trailing kept", "puts 1\n", "puts 1\n"},
		{"carriage return kept", "\r\nputs 1", "\r\nputs 1"},
		{"empty", "", ""},
		{"just newline", "\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestRegionAppendAndClear(t *testing.T) {
	var r Region
	assert.Equal(t, "", r.String())

	r.Append("1")
	r.Append("")
	r.Append("\n")
	assert.Equal(t, "1\n", r.String())
	assert.Equal(t, 2, r.Chunks())

	r.Clear()
	assert.Equal(t, "", r.String())
	assert.Equal(t, 0, r.Chunks())

	r.Append("2\n")
	assert.Equal(t, "2\n", r.String())
}

func TestRegionConcurrentAppend(t *testing.T) {
	var r Region
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Append("x")
		}()
	}
	wg.Wait()
	assert.Len(t, r.String(), 50)
	assert.Equal(t, 50, r.Chunks())
}
