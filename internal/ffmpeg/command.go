package ffmpeg

import "strings"

const defaultLogLevel = "error"

// Encode describes a single ffmpeg run from one input file to one output
// file. Progress is reported as key=value lines on stderr and an existing
// output is overwritten.
type Encode struct {
	Binary string
	Input  string
	Output string
	// InputArgs go before -i, e.g. hardware device setup.
	InputArgs []string
	// OutputArgs go between the input and the output path.
	OutputArgs []string
	// KeepMetadata copies global metadata from the input; otherwise it is
	// stripped.
	KeepMetadata bool
	// LogLevel defaults to "error".
	LogLevel string
}

// Command assembles the command line.
func (e Encode) Command() *Command {
	level := e.LogLevel
	if level == "" {
		level = defaultLogLevel
	}
	metadata := "-1"
	if e.KeepMetadata {
		metadata = "0"
	}

	args := make([]string, 0, 12+len(e.InputArgs)+len(e.OutputArgs))
	args = append(args, "-hide_banner", "-progress", "pipe:2", "-nostats", "-loglevel", level, "-y")
	args = append(args, e.InputArgs...)
	args = append(args, "-i", e.Input, "-map_metadata", metadata)
	args = append(args, e.OutputArgs...)
	args = append(args, e.Output)

	return &Command{Binary: e.Binary, Args: args, Input: e.Input, Output: e.Output}
}

// Command is an assembled ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string
}

// String renders the command line for logs.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}
