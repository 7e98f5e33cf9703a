package codec

import (
	"fmt"
	"strings"

	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

const (
	defaultAudioMime  = "audio/mpeg"
	defaultBinaryMime = "application/octet-stream"
)

// reconcileAttachment merges the two wire representations of media (a body
// holding a data URL, and/or an explicit attachment object) into one
// normalized attachment. Explicit attachment fields win on conflict; the
// body data URL only fills gaps. Returns the normalized attachment and the
// remaining body (a data URL consumed into the attachment is removed; a
// plain-text caption is kept).
func reconcileAttachment(typ chatv1.MediaType, id, body string, explicit *chatv1.Attachment) (*chatv1.Attachment, string, error) {
	att := chatv1.Attachment{}
	if explicit != nil {
		att = *explicit
	}

	bodyMime, bodyIsDataURL := parseDataURL(body)
	if explicit == nil && !bodyIsDataURL {
		return nil, "", decodeErr(ErrMalformedPayload, "attachment",
			fmt.Sprintf("%s message without attachment or data URL", typ))
	}

	if att.DataURL == "" && bodyIsDataURL {
		att.DataURL = body
		body = ""
	} else if bodyIsDataURL && att.DataURL != "" {
		// attachment already carries the payload; drop the duplicate body
		body = ""
	}

	if att.MimeType == "" {
		att.MimeType = bodyMime
	}
	if att.MimeType == "" {
		if dm, ok := parseDataURL(att.DataURL); ok {
			att.MimeType = dm
		}
	}
	if att.MimeType == "" {
		if typ == chatv1.MediaAudio {
			att.MimeType = defaultAudioMime
		} else {
			att.MimeType = defaultBinaryMime
		}
	}

	if att.MediaTyp == "" {
		att.MediaTyp = string(typ)
	}
	if att.FileName == "" {
		att.FileName = fmt.Sprintf("%s_%s.%s", typ, id, extensionFor(att.MimeType))
	}

	return &att, body, nil
}

// parseDataURL recognizes the self-describing "data:<mime>;base64,<payload>"
// form and extracts the declared mime type.
func parseDataURL(s string) (mime string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", false
	}
	rest := s[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", false
	}
	meta := rest[:comma]
	if semi := strings.IndexByte(meta, ';'); semi >= 0 {
		meta = meta[:semi]
	}
	return meta, true
}

var mimeExtensions = map[string]string{
	"audio/mpeg":      "mp3",
	"audio/ogg":       "ogg",
	"audio/mp4":       "m4a",
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"video/3gpp":      "3gp",
	"application/pdf": "pdf",
}

func extensionFor(mime string) string {
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	if i := strings.IndexByte(mime, '/'); i >= 0 && i+1 < len(mime) {
		sub := mime[i+1:]
		if j := strings.IndexAny(sub, "+;"); j >= 0 {
			sub = sub[:j]
		}
		if sub != "" && sub != "octet-stream" {
			return sub
		}
	}
	return "bin"
}
