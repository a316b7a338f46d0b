package scpi

// Message is the grammar root for one program message, e.g.
// "SOURce1:PULSe:ONTime 5" or "*IDN?".
type Message struct {
	Common  string      `(  @Common`
	Headers []*Mnemonic `| ":"? @@ ( ":" @@ )* )`
	Query   bool        `@"?"?`
	Args    []*Arg      `( @@ ( "," @@ )* )?`
}

// Mnemonic is one header node including an optional numeric suffix.
type Mnemonic struct {
	Token string `@Mnemonic`
}

// Arg is a single program data element.
type Arg struct {
	Number *float64 `  @Number`
	Word   string   `| @Mnemonic`
	Str    *string  `| @String`
}
