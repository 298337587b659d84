package platform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

var postLink = regexp.MustCompile(`^(?:https?://)?t\.me/([A-Za-z0-9_]+)/(\d+)`)

// PostLink is a reference to a channel post.
type PostLink struct {
	Channel string
	MsgID   int
}

// ParsePostLink parses links like https://t.me/channel/123.
func ParsePostLink(link string) (PostLink, error) {
	m := postLink.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return PostLink{}, errors.Wrapf(ErrValidation, "invalid link format %q", link)
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return PostLink{}, errors.Wrapf(ErrValidation, "invalid message id %q", m[2])
	}
	return PostLink{Channel: m[1], MsgID: id}, nil
}

// NormalizePhone returns phone in +<digits> form, leading + is optional.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", errors.Wrapf(ErrValidation, "invalid character %q in phone", r)
		}
	}
	out := b.String()
	if len(out) < 10 {
		return "", errors.Wrap(ErrValidation, "phone is too short")
	}
	return out, nil
}

// ChatTarget returns username or invite hash of chat link.
//
// For invite links the hash is returned and invite is true.
func ChatTarget(target string) (v string, invite bool) {
	v = strings.TrimSpace(target)
	for _, prefix := range []string{"https://", "http://"} {
		v = strings.TrimPrefix(v, prefix)
	}
	v = strings.TrimPrefix(v, "t.me/")
	v = strings.TrimPrefix(v, "telegram.me/")
	switch {
	case strings.HasPrefix(v, "+"):
		return strings.TrimPrefix(v, "+"), true
	case strings.HasPrefix(v, "joinchat/"):
		return strings.TrimPrefix(v, "joinchat/"), true
	}
	v = strings.TrimPrefix(v, "@")
	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}
	return v, false
}
