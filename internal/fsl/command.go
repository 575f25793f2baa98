package fsl

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a single external tool invocation.
type Command struct {
	Name string
	Args []string
	// Outputs lists the files the tool must have written on success.
	Outputs []string
}

// String renders the command line with shell-style quoting for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandError reports a tool that exited with a non-zero status or did not
// produce its declared outputs.
type CommandError struct {
	Command  Command
	ExitCode int
	Stderr   string
	Missing  []string
}

func (e *CommandError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: expected outputs missing: %s", e.Command.Name, strings.Join(e.Missing, ", "))
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Command.Name, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// stderrTail keeps the last lines of a tool's stderr for error messages.
func stderrTail(b []byte, lines int) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	all := strings.Split(s, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// TrimImageExt strips a NIfTI extension (.nii.gz, .nii, .hdr, .img).
func TrimImageExt(path string) string {
	for _, ext := range []string{".nii.gz", ".nii", ".hdr", ".img"} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}
