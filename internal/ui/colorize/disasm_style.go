package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// ListingDark is the chroma style for candidate listings. The NASM lexer
// tokenizes mnemonics as keywords and registers as builtins.
var ListingDark = styles.Register(chroma.MustNewStyle("identify-dark", chroma.StyleEntries{
	chroma.Text:       "#D4D4D4",
	chroma.Background: "bg:#1e1e1e",
	chroma.Comment:    "#6A9955",

	chroma.Keyword:       "#D4D4D4",
	chroma.KeywordPseudo: "#C586C0",
	chroma.KeywordType:   "#569CD6", // dword, qword ptr
	chroma.Name:          "#7C9C9D",
	chroma.NameBuiltin:   "#7C9C9D", // registers
	chroma.NameVariable:  "#7C9C9D",
	chroma.NameFunction:  "#D4D4D4",
	chroma.NameLabel:     "#FFD700",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberBin:     "#FF5F87",
	chroma.LiteralNumberOct:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",
	chroma.LiteralNumberFloat:   "#FF5F87",

	chroma.Operator:    "#D4D4D4",
	chroma.Punctuation: "#D4D4D4",
	chroma.String:      "#EACD53",
}))
