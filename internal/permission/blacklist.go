package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BlacklistedError is returned when a candidate command contains a
// blacklisted substring.
type BlacklistedError struct {
	Command string
	Entry   string
}

func (e *BlacklistedError) Error() string {
	return fmt.Sprintf("command %q blocked: contains %q", DescribeCommand(e.Command), e.Entry)
}

// CheckCommand rejects command if it contains any blacklist entry as a
// substring. The match is not word-bounded; this is a conservative
// heuristic, not a shell-syntax-aware policy.
func CheckCommand(command string, blacklist []string) error {
	for _, entry := range blacklist {
		if entry == "" {
			continue
		}
		if strings.Contains(command, entry) {
			return &BlacklistedError{Command: command, Entry: entry}
		}
	}
	return nil
}

// ParsedCommand is one simple command extracted from a shell line.
type ParsedCommand struct {
	Name string
	Args []string
}

// ParseCommands structurally parses a bash command line so error messages
// and prompt titles can name the actual programs being run, including
// through pipes, && chains, and subshells.
func ParseCommands(command string) ([]ParsedCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []ParsedCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCall(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCall(call *syntax.CallExpr) *ParsedCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &ParsedCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		cmd.Args = append(cmd.Args, wordToString(arg))
	}
	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			// command substitution is dynamic, keep a marker
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// DescribeCommand returns a short human-readable summary of a command line
// for blacklist errors and permission prompt titles. Falls back to the raw
// line when parsing fails.
func DescribeCommand(command string) string {
	cmds, err := ParseCommands(command)
	if err != nil || len(cmds) == 0 {
		if len(command) > 60 {
			return command[:60] + "..."
		}
		return command
	}

	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}
