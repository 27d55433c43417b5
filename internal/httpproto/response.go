package httpproto

import "strconv"

// reasonPhrases covers the status codes the reactor core itself emits;
// anything else is the embedding program's responsibility to phrase.
var reasonPhrases = map[int]string{
	101: "Switching Protocols",
	200: "OK",
	304: "Not Modified",
	400: "Bad Request",
	404: "Not Found",
	413: "Payload Too Large",
	500: "Internal Server Error",
}

// BuildResponse serializes a status line, headers, and body into one
// wire-ready buffer. headers is applied in insertion order by the
// caller passing a slice of [name, value] pairs rather than a map, so
// callers control header ordering deterministically (the Upgrade
// response, for one, always lists its headers in the same order).
func BuildResponse(status int, headers [][2]string, body []byte) []byte {
	reason := reasonPhrases[status]
	if reason == "" {
		reason = "Unknown"
	}

	buf := make([]byte, 0, 256+len(body))
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(status), 10)
	buf = append(buf, ' ')
	buf = append(buf, reason...)
	buf = append(buf, "\r\n"...)

	hasContentLength := false
	for _, h := range headers {
		if h[0] == "Content-Length" {
			hasContentLength = true
		}
		buf = append(buf, h[0]...)
		buf = append(buf, ": "...)
		buf = append(buf, h[1]...)
		buf = append(buf, "\r\n"...)
	}
	if !hasContentLength && status != 101 && status != 304 {
		buf = append(buf, "Content-Length: "...)
		buf = strconv.AppendInt(buf, int64(len(body)), 10)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, body...)
	return buf
}

// PlainTextError builds a canned error response body equal to the
// reason phrase; per-request HTTP errors (400/404/413/500) produce this
// canned response, then move the connection to Draining.
func PlainTextError(status int) []byte {
	reason := reasonPhrases[status]
	body := []byte(reason + "\n")
	return BuildResponse(status, [][2]string{
		{"Content-Type", "text/plain; charset=utf-8"},
		{"Connection", "close"},
	}, body)
}
