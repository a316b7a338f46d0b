package scpi

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/alecthomas/participle/v2"
)

// Parser parses SCPI program messages.
type Parser struct {
	parser *participle.Parser[Message]
}

// NewParser creates a new SCPI parser instance.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[Message](
		participle.Lexer(SCPILexer),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
	)
	if err != nil {
		return nil, fmt.Errorf("scpi: failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Node is a decoded header node.
type Node struct {
	Name   string
	Suffix int // 0 when the message omitted it
}

// Command is the decoded form of one program message.
type Command struct {
	Raw    string
	Common string // upper-cased common command without '*', e.g. "RST"
	Nodes  []Node
	Query  bool
	Args   []string
}

// Parse decodes a single program message. Compound messages joined with ';'
// are rejected; the instruments driven here only receive one at a time.
func (p *Parser) Parse(input string) (*Command, error) {
	msg, err := p.parser.ParseString("", strings.TrimSpace(input))
	if err != nil {
		return nil, fmt.Errorf("scpi: parse %q: %w", input, err)
	}

	cmd := &Command{Raw: input, Query: msg.Query}
	if msg.Common != "" {
		cmd.Common = strings.ToUpper(strings.TrimPrefix(msg.Common, "*"))
	}
	for _, m := range msg.Headers {
		cmd.Nodes = append(cmd.Nodes, splitSuffix(m.Token))
	}
	for _, a := range msg.Args {
		switch {
		case a.Number != nil:
			cmd.Args = append(cmd.Args, strconv.FormatFloat(*a.Number, 'g', -1, 64))
		case a.Str != nil:
			cmd.Args = append(cmd.Args, *a.Str)
		default:
			cmd.Args = append(cmd.Args, a.Word)
		}
	}
	return cmd, nil
}

// Float returns argument i as a float64.
func (c *Command) Float(i int) (float64, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("scpi: %s: missing argument %d", c.Raw, i)
	}
	v, err := strconv.ParseFloat(c.Args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("scpi: %s: argument %d: %w", c.Raw, i, err)
	}
	return v, nil
}

// Bool decodes argument i as SCPI boolean data (ON|OFF|1|0).
func (c *Command) Bool(i int) (bool, error) {
	if i >= len(c.Args) {
		return false, fmt.Errorf("scpi: %s: missing argument %d", c.Raw, i)
	}
	switch strings.ToUpper(c.Args[i]) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	}
	return false, fmt.Errorf("scpi: %s: %q is not boolean", c.Raw, c.Args[i])
}

func splitSuffix(token string) Node {
	end := len(token)
	for end > 0 && unicode.IsDigit(rune(token[end-1])) {
		end--
	}
	n := Node{Name: token[:end]}
	if end < len(token) {
		n.Suffix, _ = strconv.Atoi(token[end:])
	}
	return n
}
