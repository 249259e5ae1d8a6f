package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingController struct {
	paths   []string
	remotes []string
	names   []string
	mutes   int
	deafens int
}

func (c *recordingController) SetPath(path *string, pretty string, remote *string) {
	p := "<nil>"
	if path != nil {
		p = *path
	}
	c.paths = append(c.paths, p+"|"+pretty)
	if remote != nil {
		c.remotes = append(c.remotes, *remote)
	}
}

func (c *recordingController) SetName(name string) { c.names = append(c.names, name) }
func (c *recordingController) ToggleMute()         { c.mutes++ }
func (c *recordingController) ToggleDeafen()       { c.deafens++ }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) lines(t *testing.T) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(s.b.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestShellDispatch(t *testing.T) {
	in := strings.Join([]string{
		`{"command":"set_path","path":"/a/x.txt","prettyPath":"A/x.txt","remote":"github.com/acme/app"}`,
		`{"command":"set_path","path":null,"prettyPath":null,"remote":null}`,
		``,
		`{"command":"set_name","name":"Ada"}`,
		`{"command":"mute"}`,
		`{"command":"deafen"}`,
		`not json`,
		`{"command":"set_name","name":"` + strings.Repeat("x", 65) + `"}`,
		`{"command":"dance"}`,
	}, "\n") + "\n"

	out := &syncBuffer{}
	sh := NewShell(strings.NewReader(in), out)
	ctl := &recordingController{}
	require.NoError(t, sh.Serve(context.Background(), ctl))

	assert.Equal(t, []string{"/a/x.txt|A/x.txt", "<nil>|"}, ctl.paths)
	assert.Equal(t, []string{"github.com/acme/app"}, ctl.remotes)
	assert.Equal(t, []string{"Ada"}, ctl.names)
	assert.Equal(t, 1, ctl.mutes)
	assert.Equal(t, 1, ctl.deafens)

	lines := out.lines(t)
	require.Len(t, lines, 3)
	assert.Equal(t, "error", lines[0]["command"])
	assert.Equal(t, "error", lines[1]["command"])
	assert.Contains(t, lines[1]["message"], "name")
	assert.Equal(t, "debug", lines[2]["command"])
}

func TestShellStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	sh := NewShell(r, &syncBuffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sh.Serve(ctx, &recordingController{}))
}
