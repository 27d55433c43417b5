package httpproto

import (
	"strings"
	"testing"

	"github.com/lattice-io/reactorweb/internal/errs"
)

func feedAll(p *Parser, chunks ...[]byte) Result {
	var last Result
	for _, c := range chunks {
		last = p.Feed(c)
		if last.Complete || last.Err != nil {
			return last
		}
	}
	return last
}

func TestParseSimpleGET(t *testing.T) {
	p := NewParser(0)
	raw := "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"
	res := feedAll(p, []byte(raw))
	if res.Err != nil || !res.Complete {
		t.Fatalf("expected complete request, got %+v", res)
	}
	if res.Request.Verb != GET || res.Request.URI != "/index.html" {
		t.Fatalf("unexpected parsed request: %+v", res.Request)
	}
	if res.Request.Headers.Get("host") != "x" {
		t.Fatalf("expected case-insensitive header lookup")
	}
}

func TestParseOneByteAtATime(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	p := NewParser(0)
	var res Result
	for i := 0; i < len(raw); i++ {
		res = p.Feed([]byte{raw[i]})
		if res.Err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, res.Err)
		}
	}
	if !res.Complete {
		t.Fatalf("expected completion after last byte")
	}
	if string(res.Request.Body) != "hello" {
		t.Fatalf("unexpected body: %q", res.Request.Body)
	}
}

func TestParseBareLF(t *testing.T) {
	raw := "GET /x HTTP/1.1\nHost: y\n\n"
	p := NewParser(0)
	res := feedAll(p, []byte(raw))
	if res.Err != nil || !res.Complete {
		t.Fatalf("expected complete request with bare LF, got %+v", res)
	}
}

func TestUnknownVerbResolvesToOther(t *testing.T) {
	p := NewParser(0)
	res := feedAll(p, []byte("PATCH /x HTTP/1.1\r\n\r\n"))
	if res.Err != nil || !res.Complete {
		t.Fatalf("expected completion, got %+v", res)
	}
	if res.Request.Verb != Other || res.Request.RawVerb != "PATCH" {
		t.Fatalf("expected Other verb, raw PATCH, got %+v", res.Request)
	}
}

func TestMalformedRequestLineIs400(t *testing.T) {
	p := NewParser(0)
	res := feedAll(p, []byte("GARBAGE\r\n\r\n"))
	if res.Err == nil {
		t.Fatalf("expected error for malformed request line")
	}
	e, ok := res.Err.(*errs.Error)
	if !ok || e.Code != errs.CodeProtocolViolation {
		t.Fatalf("expected protocol violation, got %v", res.Err)
	}
}

func TestDuplicateContentLengthRejected(t *testing.T) {
	p := NewParser(0)
	res := feedAll(p, []byte("POST /x HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n"))
	if res.Err == nil {
		t.Fatalf("expected error for duplicate Content-Length")
	}
}

func TestOversizeRequestIs413(t *testing.T) {
	p := NewParser(16)
	res := feedAll(p, []byte("GET /this-is-a-very-long-uri-indeed HTTP/1.1\r\n\r\n"))
	if res.Err == nil {
		t.Fatalf("expected oversize error")
	}
	e, ok := res.Err.(*errs.Error)
	if !ok || e.Code != errs.CodeResourceExhausted {
		t.Fatalf("expected resource exhausted, got %v", res.Err)
	}
}

func TestPipelinedRequestsLeftover(t *testing.T) {
	p := NewParser(0)
	first := "GET /a HTTP/1.1\r\n\r\n"
	second := "GET /b HTTP/1.1\r\n\r\n"
	res := feedAll(p, []byte(first+second))
	if res.Err != nil || !res.Complete {
		t.Fatalf("expected first request complete, got %+v", res)
	}
	if string(res.Leftover) != second {
		t.Fatalf("expected leftover to be second request, got %q", res.Leftover)
	}

	p2 := NewParser(0)
	res2 := feedAll(p2, res.Leftover)
	if res2.Err != nil || !res2.Complete || res2.Request.URI != "/b" {
		t.Fatalf("expected second request to parse from leftover, got %+v", res2)
	}
}

func TestRoundTripRequestLine(t *testing.T) {
	p := NewParser(0)
	res := feedAll(p, []byte("GET /a/b?c=d HTTP/1.1\r\nHost: example\r\n\r\n"))
	if res.Err != nil || !res.Complete {
		t.Fatalf("expected complete, got %+v", res)
	}
	var sb strings.Builder
	sb.WriteString(res.Request.RawVerb)
	sb.WriteByte(' ')
	sb.WriteString(res.Request.URI)
	sb.WriteByte(' ')
	sb.WriteString(res.Request.ProtoVersion)
	if sb.String() != "GET /a/b?c=d HTTP/1.1" {
		t.Fatalf("unexpected serialization: %s", sb.String())
	}
	if res.Request.Path() != "/a/b" {
		t.Fatalf("expected stripped path, got %s", res.Request.Path())
	}
}
