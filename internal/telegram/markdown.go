package telegram

import "strings"

// markdownV2Special lists the characters MarkdownV2 treats as markup,
// including the backslash escape itself.
const markdownV2Special = "\\_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 backslash-escapes every MarkdownV2 markup character so the
// text renders literally.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(markdownV2Special, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}
