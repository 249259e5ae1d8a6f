package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/protocol"
)

const maxShellLine = 64 << 10

// Controller handles commands coming from the editor shell.
type Controller interface {
	SetPath(path *string, pretty string, remote *string)
	SetName(name string)
	ToggleMute()
	ToggleDeafen()
}

// Shell speaks newline-delimited JSON with the editor over a pair of streams.
type Shell struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex
}

func NewShell(in io.Reader, out io.Writer) *Shell {
	return &Shell{in: in, out: out}
}

// Send writes one message line. Safe for concurrent use.
func (s *Shell) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "client.shell").Msg("marshal")
		return
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		log.Warn().Err(err).Str("module", "client.shell").Msg("write")
	}
}

func (s *Shell) Info(msg string)  { s.Send(protocol.Text{Command: protocol.ShellInfo, Message: msg}) }
func (s *Shell) Error(msg string) { s.Send(protocol.Text{Command: protocol.ShellError, Message: msg}) }
func (s *Shell) Debug(msg string) { s.Send(protocol.Text{Command: protocol.ShellDebug, Message: msg}) }

// Serve dispatches commands until the input ends or ctx is canceled.
// io.EOF from the shell is a normal shutdown and reported as nil.
func (s *Shell) Serve(ctx context.Context, ctl Controller) error {
	lines := make(chan []byte)
	errC := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(s.in)
		sc.Buffer(make([]byte, 0, 4096), maxShellLine)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errC <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errC:
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			if err := s.dispatch(line, ctl); err != nil {
				log.Warn().Err(err).Str("module", "client.shell").Msg("bad shell message")
				s.Error(err.Error())
			}
		}
	}
}

func (s *Shell) dispatch(line []byte, ctl Controller) error {
	cmd, err := protocol.Command(line)
	if err != nil {
		return err
	}
	switch cmd {
	case protocol.ShellSetPath:
		var m protocol.ShellPath
		if err := protocol.Decode(cmd, line, &m); err != nil {
			return err
		}
		pretty := ""
		if m.PrettyPath != nil {
			pretty = *m.PrettyPath
		}
		ctl.SetPath(m.Path, pretty, m.Remote)
	case protocol.ShellSetName:
		var m protocol.ShellName
		if err := protocol.Decode(cmd, line, &m); err != nil {
			return err
		}
		ctl.SetName(m.Name)
	case protocol.ShellMute:
		ctl.ToggleMute()
	case protocol.ShellDeafen:
		ctl.ToggleDeafen()
	default:
		s.Debug("unknown command " + cmd)
	}
	return nil
}
