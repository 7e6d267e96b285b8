package idl

// naughtyStrings is a small curated sample of the "big list of naughty
// strings" class of pathological text inputs (spec.md glossary). The
// first entry is the exact sample scenario E5 inserts.
var naughtyStrings = []string{
	"\"\\`'><script>\xE3\x80\x80javascript:alert(1)</script>",
	"../../../../../../../etc/passwd",
	"\x00\x00\x00\x00",
	"NaN",
	"𝕿𝖊𝖘𝖙",
	"%n%n%n%n%n%n%n%n%n%n",
	"';--",
	"\uFEFF",
}
