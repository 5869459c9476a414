package notation

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	whitespaceCode = iota
	identifierCode
	arrowCode
	commaCode
	colonCode
	openParenCode
	closeParenCode
	typeNameCode
)

// Token definitions
var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	identifierToken = parsly.NewToken(identifierCode, "Identifier", newIdentifierMatcher())
	arrowToken      = parsly.NewToken(arrowCode, "->", newArrowMatcher())
	commaToken      = parsly.NewToken(commaCode, ",", matcher.NewByte(','))
	colonToken      = parsly.NewToken(colonCode, ":", matcher.NewByte(':'))
	openParenToken  = parsly.NewToken(openParenCode, "(", matcher.NewByte('('))
	closeParenToken = parsly.NewToken(closeParenCode, ")", matcher.NewByte(')'))
	typeNameToken   = parsly.NewToken(typeNameCode, "TypeName", newTypeNameMatcher())
)

// Custom matchers
func newIdentifierMatcher() parsly.Matcher {
	return &identifierMatcher{}
}

func newArrowMatcher() parsly.Matcher {
	return &arrowMatcher{}
}

func newTypeNameMatcher() parsly.Matcher {
	return &typeNameMatcher{}
}

// identifierMatcher matches role and label names
type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}

	// First character must be a letter or underscore
	if !isLetter(input[pos]) && input[pos] != '_' {
		return 0
	}

	matched := 1
	for i := pos + 1; i < size; i++ {
		if isLetter(input[i]) || isDigit(input[i]) || input[i] == '_' {
			matched++
			continue
		}
		break
	}

	return matched
}

// arrowMatcher matches the "->" fragment
type arrowMatcher struct{}

func (m *arrowMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos

	if pos+1 >= cursor.InputSize {
		return 0
	}
	if input[pos] == '-' && input[pos+1] == '>' {
		return 2
	}
	return 0
}

// typeNameMatcher matches a payload type name: everything up to the next
// comma or closing parenthesis
type typeNameMatcher struct{}

func (m *typeNameMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}

	matched := 0
	for i := pos; i < size; i++ {
		if input[i] == ',' || input[i] == ')' {
			break
		}
		matched++
	}

	return matched
}

// Helper functions
func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
