package scpi

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// SCPILexer tokenizes a single SCPI program message.
// Mnemonics carry their numeric suffix (SOURce1) so the suffix cannot be
// confused with a numeric argument once whitespace is elided.
var SCPILexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Common", Pattern: `\*[A-Za-z]+`},
	{Name: "Number", Pattern: `[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`},
	{Name: "Mnemonic", Pattern: `[A-Za-z][A-Za-z_]*[0-9]*`},
	{Name: "String", Pattern: `"[^"]*"|'[^']*'`},
	{Name: "Punct", Pattern: `[:?,;]`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})
