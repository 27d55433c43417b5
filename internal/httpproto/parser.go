package httpproto

import (
	"strconv"
	"strings"

	"github.com/lattice-io/reactorweb/internal/errs"
)

// DefaultMaxRequestBytes bounds total request size (request line + headers
// + body) absent an explicit configuration.
const DefaultMaxRequestBytes = 4 << 20

type phase int

const (
	phaseRequestLine phase = iota
	phaseHeaders
	phaseBody
	phaseDone
)

// Result is returned by every Feed call.
type Result struct {
	// Complete is true once a full request has been parsed.
	Complete bool
	Request  *Request
	// Leftover holds any bytes fed past the end of the completed request
	// (HTTP pipelining / the start of the next keep-alive request); the
	// caller should seed a fresh Parser with it.
	Leftover []byte
	// Err, if non-nil, is an *errs.Error with Code CodeProtocolViolation
	// (malformed syntax → 400) or CodeResourceExhausted (over the byte
	// limit → 413). The parser has already entered its terminal phase and
	// must not be fed further.
	Err error
}

// Parser incrementally parses one HTTP/1.1 request from a byte stream fed
// in arbitrarily small chunks, including one byte at a time.
type Parser struct {
	maxBytes int

	buf     []byte
	scanned int // index into buf up to which line-boundary scanning has progressed
	ph      phase

	req          *Request
	bodyStart    int
	sawContentLen bool
	done         bool
}

// NewParser creates a parser bounded by maxBytes total request size. A
// maxBytes of 0 selects DefaultMaxRequestBytes.
func NewParser(maxBytes int) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	return &Parser{
		maxBytes: maxBytes,
		ph:       phaseRequestLine,
		req:      &Request{Headers: newHeaders()},
	}
}

// Feed appends data to the parser's internal buffer and advances as far
// as possible. It must not be called again once a Result with Complete or
// Err set has been returned.
func (p *Parser) Feed(data []byte) Result {
	if p.done {
		return Result{Err: errs.New(errs.CodeInternal, "parser fed after completion")}
	}
	p.buf = append(p.buf, data...)

	for p.ph == phaseRequestLine || p.ph == phaseHeaders {
		line, ok := p.nextLine()
		if !ok {
			break
		}
		if p.ph == phaseRequestLine {
			if err := p.parseRequestLine(line); err != nil {
				return p.fail(err)
			}
			p.ph = phaseHeaders
			continue
		}
		// phaseHeaders
		if line == "" {
			if err := p.finishHeaders(); err != nil {
				return p.fail(err)
			}
			continue
		}
		if err := p.parseHeaderLine(line); err != nil {
			return p.fail(err)
		}
	}

	if p.ph == phaseBody {
		need := p.bodyStart + p.req.ContentLength
		if len(p.buf) >= need {
			if need > p.maxBytes {
				return p.fail(errs.New(errs.CodeResourceExhausted, "request exceeds maximum size"))
			}
			p.req.Body = p.buf[p.bodyStart:need]
			leftover := p.buf[need:]
			p.ph = phaseDone
			p.done = true
			return Result{Complete: true, Request: p.req, Leftover: leftover}
		}
	}

	if p.ph == phaseDone {
		if p.scanned > p.maxBytes {
			return p.fail(errs.New(errs.CodeResourceExhausted, "request exceeds maximum size"))
		}
		p.done = true
		leftover := p.buf[p.scanned:]
		return Result{Complete: true, Request: p.req, Leftover: leftover}
	}

	if len(p.buf)-p.consumedForLimit() > p.maxBytes {
		return p.fail(errs.New(errs.CodeResourceExhausted, "request exceeds maximum size"))
	}

	return Result{}
}

// consumedForLimit excludes nothing today but exists as the single place
// that defines what counts against maxBytes, in case future callers want
// to exempt already-delivered body chunks from the running total.
func (p *Parser) consumedForLimit() int { return 0 }

func (p *Parser) fail(err error) Result {
	p.ph = phaseDone
	p.done = true
	return Result{Err: err}
}

// nextLine scans for the next CRLF- or bare-LF-terminated line starting
// at p.scanned, returning the line content (without terminator) and
// advancing p.scanned past it. Returns ok=false if no terminator has
// arrived yet.
func (p *Parser) nextLine() (string, bool) {
	for i := p.scanned; i < len(p.buf); i++ {
		if p.buf[i] == '\n' {
			end := i
			if end > p.scanned && p.buf[end-1] == '\r' {
				end--
			}
			line := string(p.buf[p.scanned:end])
			p.scanned = i + 1
			return line, true
		}
	}
	return "", false
}

func (p *Parser) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return errs.New(errs.CodeProtocolViolation, "malformed request line")
	}
	p.req.RawVerb = parts[0]
	p.req.Verb = parseVerb(parts[0])
	p.req.URI = parts[1]
	if len(parts) == 3 {
		p.req.ProtoVersion = parts[2]
	} else {
		p.req.ProtoVersion = "HTTP/1.0"
	}
	if p.req.URI == "" {
		return errs.New(errs.CodeProtocolViolation, "empty request URI")
	}
	return nil
}

func (p *Parser) parseHeaderLine(line string) error {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return errs.New(errs.CodeProtocolViolation, "malformed header line")
	}
	name := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return errs.New(errs.CodeProtocolViolation, "empty header name")
	}
	if strings.EqualFold(name, "Content-Length") {
		if p.sawContentLen {
			// A repeated Content-Length header is rejected as 400
			// rather than silently taking the last value.
			return errs.New(errs.CodeProtocolViolation, "duplicate Content-Length header")
		}
		p.sawContentLen = true
	}
	p.req.Headers.Set(name, value)
	return nil
}

func (p *Parser) finishHeaders() error {
	if p.sawContentLen {
		raw := p.req.Headers.Get("Content-Length")
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return errs.New(errs.CodeProtocolViolation, "invalid Content-Length")
		}
		p.req.ContentLength = n
	}
	if p.req.ContentLength > 0 {
		p.bodyStart = p.scanned
		p.ph = phaseBody
	} else {
		p.ph = phaseDone
	}
	return nil
}
