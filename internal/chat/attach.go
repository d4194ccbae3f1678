package chat

import (
	"errors"
	"mime"
	"net/url"
	"path"
	"strings"

	"zag/internal/message"
)

var errAttachUsage = errors.New("usage: /attach <url> [content-type]")

// ParseAttachment reads the arguments of an /attach command. Without an
// explicit content type it is guessed from the URL's extension.
func ParseAttachment(args string) (message.Attachment, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return message.Attachment{}, errAttachUsage
	}
	u, err := url.Parse(fields[0])
	if err != nil || u.Scheme == "" {
		return message.Attachment{}, errAttachUsage
	}

	a := message.Attachment{URL: fields[0]}
	if u.Scheme != "data" {
		if name := path.Base(u.Path); name != "." && name != "/" {
			a.Name = name
		}
	}
	switch {
	case len(fields) == 2:
		a.ContentType = fields[1]
	case u.Scheme == "data":
		a.ContentType, _, _ = strings.Cut(u.Opaque, ";")
	default:
		a.ContentType = mime.TypeByExtension(path.Ext(u.Path))
	}
	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}
	return a, nil
}
