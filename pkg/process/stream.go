package process

import "fmt"

// Stream identifies one of the output streams of a process.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

var streams = [...]Stream{Stdout, Stderr}

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("Stream(%d)", int(s))
	}
}

func (s Stream) valid() bool {
	return s == Stdout || s == Stderr
}

// ParseStream returns the stream with the given name ("stdout" or "stderr").
func ParseStream(name string) (Stream, error) {
	switch name {
	case "stdout":
		return Stdout, nil
	case "stderr":
		return Stderr, nil
	default:
		return 0, &InvalidStreamError{Name: name}
	}
}
