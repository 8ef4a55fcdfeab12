package target

// hasPlaceholder reports whether text contains a '?' bind marker outside
// quoted literals, quoted identifiers and comments.
//
// Quotes follow MySQL rules: '...' and "..." accept backslash escapes and
// doubled quotes, `...` accepts doubled backticks. Comments are "-- " and
// "#" to end of line, and /* ... */.
func hasPlaceholder(text string) bool {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '?':
			return true
		case '\'', '"', '`':
			i = skipQuoted(text, i)
		case '#':
			i = skipLine(text, i)
		case '-':
			if i+2 < len(text) && text[i+1] == '-' && isSpace(text[i+2]) {
				i = skipLine(text, i)
			}
		case '/':
			if i+1 < len(text) && text[i+1] == '*' {
				i = skipBlockComment(text, i)
			}
		}
	}
	return false
}

// skipQuoted returns the index of the quote closing the literal opened at
// text[start], or len(text)-1 if it is unterminated.
func skipQuoted(text string, start int) int {
	q := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if q != '`' {
				i++
			}
		case q:
			if i+1 < len(text) && text[i+1] == q {
				i++
				continue
			}
			return i
		}
	}
	return len(text) - 1
}

func skipLine(text string, start int) int {
	for i := start; i < len(text); i++ {
		if text[i] == '\n' {
			return i
		}
	}
	return len(text) - 1
}

func skipBlockComment(text string, start int) int {
	for i := start + 2; i+1 < len(text); i++ {
		if text[i] == '*' && text[i+1] == '/' {
			return i + 1
		}
	}
	return len(text) - 1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
