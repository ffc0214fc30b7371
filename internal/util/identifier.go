package util

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIdentifierLength 会议室和参会者 id 的最大字节数
const MaxIdentifierLength = 128

var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidateIdentifier 校验会议室或参会者 id
// id 会拼进 MQTT 主题、MQTT clientId 和 Redis key，不允许 MQTT 通配符、主题分隔符、clientId 分隔符和控制字符
func ValidateIdentifier(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case len(id) > MaxIdentifierLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentifier, MaxIdentifierLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidIdentifier)
	case strings.ContainsAny(id, "+#/"):
		return fmt.Errorf("%w: %q contains mqtt wildcard or separator", ErrInvalidIdentifier, id)
	case strings.Contains(id, clientIDSeparator):
		return fmt.Errorf("%w: %q contains %s", ErrInvalidIdentifier, id, clientIDSeparator)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q contains control or space character", ErrInvalidIdentifier, id)
		}
	}
	return nil
}
