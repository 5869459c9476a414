package notation

import (
	"strings"

	"github.com/sessionlab/chorus/model"
	"github.com/viant/parsly"
)

// Parse parses the compact message notation used in protocol documents:
//
//	Sender -> Receiver[, Receiver...] : label[(Type[, Type...])]
//
// and returns the equivalent message interaction.
func Parse(input []byte) (*model.Interaction, error) {
	cursor := parsly.NewCursor("", input, 0)

	// Match the sender role
	matched := cursor.MatchAfterOptional(whitespaceToken, identifierToken)
	if matched.Code != identifierToken.Code {
		return nil, cursor.NewError(identifierToken)
	}
	message := &model.Interaction{Kind: model.KindMessage, From: model.Role(matched.Text(cursor))}

	// Match the arrow
	matched = cursor.MatchAfterOptional(whitespaceToken, arrowToken)
	if matched.Code != arrowToken.Code {
		return nil, cursor.NewError(arrowToken)
	}

	// Match one or more receivers separated by commas
	for {
		matched = cursor.MatchAfterOptional(whitespaceToken, identifierToken)
		if matched.Code != identifierToken.Code {
			return nil, cursor.NewError(identifierToken)
		}
		message.To = append(message.To, model.Role(matched.Text(cursor)))

		matched = cursor.MatchAfterOptional(whitespaceToken, commaToken)
		if matched.Code != commaToken.Code {
			break
		}
	}

	// Match the colon and the message label
	matched = cursor.MatchAfterOptional(whitespaceToken, colonToken)
	if matched.Code != colonToken.Code {
		return nil, cursor.NewError(colonToken)
	}
	matched = cursor.MatchAfterOptional(whitespaceToken, identifierToken)
	if matched.Code != identifierToken.Code {
		return nil, cursor.NewError(identifierToken)
	}
	message.Label = matched.Text(cursor)

	// Match the optional payload type list
	matched = cursor.MatchAfterOptional(whitespaceToken, openParenToken)
	if matched.Code != openParenToken.Code {
		return message, nil
	}
	matched = cursor.MatchAny(closeParenToken, typeNameToken)
	switch matched.Code {
	case closeParenToken.Code:
		return message, nil
	case typeNameToken.Code:
	default:
		return nil, cursor.NewError(typeNameToken)
	}
	for {
		message.Payload = append(message.Payload, strings.TrimSpace(matched.Text(cursor)))

		matched = cursor.MatchOne(commaToken)
		if matched.Code == commaToken.Code {
			matched = cursor.MatchOne(typeNameToken)
			if matched.Code != typeNameToken.Code {
				return nil, cursor.NewError(typeNameToken)
			}
			continue
		}
		matched = cursor.MatchOne(closeParenToken)
		if matched.Code != closeParenToken.Code {
			return nil, cursor.NewError(closeParenToken)
		}
		return message, nil
	}
}
