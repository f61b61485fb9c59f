package lgf

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// document is the raw section/row structure of an LGF file. Cells are not
// interpreted here.
type document struct {
	Sections []*section `parser:"Newline* @@*"`
}

type section struct {
	Name string `parser:"@Section Newline*"`
	Rows []*row `parser:"@@*"`
}

type row struct {
	Cells []string `parser:"( @Value | @String )+ Newline*"`
}

var lgfLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Section", Pattern: `@[A-Za-z_]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Newline", Pattern: `\r?\n`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "Value", Pattern: `[^\s"#]+`},
})

var parseDocument = participle.MustBuild[document](
	participle.Lexer(lgfLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
)
