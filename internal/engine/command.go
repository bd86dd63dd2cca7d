package engine

import (
	"fmt"
	"strconv"
	"strings"

	"leelad/pkg/types"
)

// GTP command constructors for the commands the server issues itself.
// Anything else arrives pre-built from the client and is forwarded as-is.

func ClearBoard() types.Command { return types.Command{Name: "clear_board"} }

func Boardsize(size int) types.Command {
	return types.Command{Name: "boardsize", Args: []string{strconv.Itoa(size)}}
}

func Komi(komi float64) types.Command {
	return types.Command{Name: "komi", Args: []string{strconv.FormatFloat(komi, 'g', -1, 64)}}
}

func Play(color, coord string) types.Command {
	return types.Command{Name: "play", Args: []string{color, coord}}
}

func Genmove(color string) types.Command {
	return types.Command{Name: "genmove", Args: []string{color}}
}

func Quit() types.Command { return types.Command{Name: "quit"} }

// ParseCommand parses a GTP command line: an optional numeric id, the
// command name, then whitespace-separated arguments.
func ParseCommand(s string) types.Command {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return types.Command{}
	}
	var cmd types.Command
	if id, err := strconv.Atoi(fields[0]); err == nil {
		cmd.ID = &id
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return cmd
	}
	cmd.Name = fields[0]
	if len(fields) > 1 {
		cmd.Args = fields[1:]
	}
	return cmd
}

// formatCommand renders a command as a GTP request line (without the
// trailing newline).
func formatCommand(cmd types.Command) string {
	var parts []string
	if cmd.ID != nil {
		parts = append(parts, strconv.Itoa(*cmd.ID))
	}
	parts = append(parts, cmd.Name)
	parts = append(parts, argTokens(cmd.Args)...)
	return strings.Join(parts, " ")
}

// argTokens flattens the loosely typed Args field into wire tokens.
func argTokens(args any) []string {
	switch v := args.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return strings.Fields(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			out = append(out, fmt.Sprint(a))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Response is a parsed GTP reply. Err reports a '?' (failure) response.
type Response struct {
	ID      *int
	Content string
	Err     bool
}

// String renders the response back into GTP wire form.
func (r Response) String() string {
	marker := "="
	if r.Err {
		marker = "?"
	}
	if r.ID != nil {
		return fmt.Sprintf("%s%d %s", marker, *r.ID, r.Content)
	}
	return marker + " " + r.Content
}

// parseResponse assembles a Response from the lines of one reply block
// (first line starts with '=' or '?', terminated by a blank line which is
// not included).
func parseResponse(lines []string) Response {
	var resp Response
	if len(lines) == 0 {
		return resp
	}
	head := lines[0]
	if strings.HasPrefix(head, "?") {
		resp.Err = true
	}
	head = strings.TrimLeft(head, "=?")
	if i := strings.IndexByte(head, ' '); i >= 0 {
		if id, err := strconv.Atoi(head[:i]); err == nil {
			resp.ID = &id
			head = head[i+1:]
		}
	} else if id, err := strconv.Atoi(head); err == nil && head != "" {
		resp.ID = &id
		head = ""
	}
	content := strings.TrimSpace(head)
	if len(lines) > 1 {
		content = strings.TrimSpace(content + "\n" + strings.Join(lines[1:], "\n"))
	}
	resp.Content = content
	return resp
}
