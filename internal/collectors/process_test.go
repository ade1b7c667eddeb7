package collectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveExecPath(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want string
	}{
		{"absolute path", "/usr/bin/python3 server.py", "/usr/bin/python3"},
		{"dot app bundle", "/Applications/Foo.app/Contents/MacOS/Foo --flag", "/Applications/Foo.app/Contents/MacOS/Foo"},
		{"relative token", "python3 server.py", ""},
		{"quoted path with spaces", `"/Applications/My App.app/Contents/MacOS/My App" --flag`, "/Applications/My App.app/Contents/MacOS/My App"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveExecPath(tt.cmd))
		})
	}
}

func TestRemainderAfterNFields(t *testing.T) {
	line := "123    456  root   1.5  0.3  /usr/bin/foo --flag value"
	assert.Equal(t, "/usr/bin/foo --flag value", remainderAfterNFields(line, 5))
	assert.Equal(t, "", remainderAfterNFields("a b", 5))
}
