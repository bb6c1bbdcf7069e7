package respbuild

import "golang.org/x/text/encoding/htmlindex"

// NormalizeCharset validates an application-supplied charset name
// (as would appear after "; charset=" in a Content-Type header)
// against the IANA registry golang.org/x/text/encoding/htmlindex
// knows about, returning its canonical name. Unknown or empty names
// fall back to utf-8, which is always assumed correct for a body the
// application declares no charset for.
func NormalizeCharset(name string) string {
	if name == "" {
		return "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "utf-8"
	}
	canon, err := htmlindex.Name(enc)
	if err != nil {
		return "utf-8"
	}
	return canon
}

// ContentTypeWithCharset appends "; charset=<normalized>" to a base
// media type unless it already carries a parameter list.
func ContentTypeWithCharset(mediaType, charset string) string {
	for i := 0; i < len(mediaType); i++ {
		if mediaType[i] == ';' {
			return mediaType
		}
	}
	return mediaType + "; charset=" + NormalizeCharset(charset)
}
