package filter

import (
	"fmt"
	"strings"
)

// Grammar:
//
//	or         = and { ("||" | "or") and }
//	and        = unary { ("&&" | "and") unary }
//	unary      = ("!" | "not") unary | "(" or ")" | comparison
//	comparison = field op value
//	op         = "=" | "!=" | "~" | "!~" | "^" | "$"
//	value      = word | "quoted" | 'quoted' | /regex/flags
//
// Words run up to whitespace or punctuation, so versions like 17.0 need no quotes.

type expr interface {
	Match(sim *Simulator) bool
}

type allOf []expr

func (a allOf) Match(sim *Simulator) bool {
	for _, e := range a {
		if !e.Match(sim) {
			return false
		}
	}
	return true
}

type anyOf []expr

func (a anyOf) Match(sim *Simulator) bool {
	for _, e := range a {
		if e.Match(sim) {
			return true
		}
	}
	return false
}

type negated struct{ inner expr }

func (n negated) Match(sim *Simulator) bool { return !n.inner.Match(sim) }

type tokenKind int

const (
	tokEnd tokenKind = iota
	tokWord
	tokQuoted
	tokPattern
	tokCompare
	tokAnd
	tokOr
	tokNot
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
	at   int
}

// Two-character operators come first so "!=" is not read as "!" then "="
var symbols = []struct {
	text string
	kind tokenKind
}{
	{"&&", tokAnd}, {"||", tokOr}, {"!=", tokCompare}, {"!~", tokCompare},
	{"!", tokNot}, {"=", tokCompare}, {"~", tokCompare}, {"^", tokCompare}, {"$", tokCompare},
	{"(", tokOpen}, {")", tokClose},
}

const wordStop = " \t\r\n()&|!=~^$<>'\"/"

type scanner struct {
	src string
	pos int
}

func (s *scanner) scan() (token, error) {
	for s.pos < len(s.src) && strings.IndexByte(" \t\r\n", s.src[s.pos]) >= 0 {
		s.pos++
	}
	at := s.pos
	if at == len(s.src) {
		return token{kind: tokEnd, at: at}, nil
	}

	rest := s.src[at:]
	for _, sym := range symbols {
		if strings.HasPrefix(rest, sym.text) {
			s.pos += len(sym.text)
			return token{kind: sym.kind, text: sym.text, at: at}, nil
		}
	}

	switch c := rest[0]; c {
	case '&', '|':
		return token{}, fmt.Errorf("unexpected %q at %d (use %c%c)", c, at, c, c)
	case '<', '>':
		return token{}, fmt.Errorf("unsupported operator %q at %d (use =, !=, ~, !~, ^, $)", c, at)
	case '"', '\'':
		return s.quoted(c)
	case '/':
		return s.pattern()
	}

	n := strings.IndexAny(rest, wordStop)
	if n < 0 {
		n = len(rest)
	}
	s.pos += n
	return token{kind: tokWord, text: rest[:n], at: at}, nil
}

// quoted reads a string in either quote style. A backslash escapes the quote
// or another backslash; any other backslash is kept for regexes like "\d+".
func (s *scanner) quoted(q byte) (token, error) {
	at := s.pos
	var b strings.Builder
	for i := at + 1; i < len(s.src); i++ {
		c := s.src[i]
		switch {
		case c == '\\' && i+1 < len(s.src) && (s.src[i+1] == q || s.src[i+1] == '\\'):
			b.WriteByte(s.src[i+1])
			i++
		case c == q:
			s.pos = i + 1
			return token{kind: tokQuoted, text: b.String(), at: at}, nil
		default:
			b.WriteByte(c)
		}
	}
	return token{}, fmt.Errorf("unterminated string starting at %d", at)
}

// pattern reads /regex/flags; a slash inside the regex is written \/
func (s *scanner) pattern() (token, error) {
	at := s.pos
	var b strings.Builder
	for i := at + 1; i < len(s.src); i++ {
		c := s.src[i]
		if c == '\\' && i+1 < len(s.src) && s.src[i+1] == '/' {
			b.WriteByte('/')
			i++
			continue
		}
		if c != '/' {
			b.WriteByte(c)
			continue
		}

		end := i + 1
		for end < len(s.src) && isLetter(s.src[end]) {
			end++
		}
		flags, err := regexFlags(s.src[i+1 : end])
		if err != nil {
			return token{}, fmt.Errorf("regex at %d: %w", at, err)
		}
		s.pos = end
		return token{kind: tokPattern, text: flags + b.String(), at: at}, nil
	}
	return token{}, fmt.Errorf("unterminated regex starting at %d", at)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// regexFlags turns trailing i, m and s flags into an inline (?ims) group
func regexFlags(flags string) (string, error) {
	if flags == "" {
		return "", nil
	}
	var set []byte
	for _, f := range []byte(strings.ToLower(flags)) {
		if strings.IndexByte("ims", f) < 0 {
			return "", fmt.Errorf("unsupported flag %q (supported: i, m, s)", f)
		}
		if strings.IndexByte(string(set), f) < 0 {
			set = append(set, f)
		}
	}
	return "(?" + string(set) + ")", nil
}

type parser struct {
	sc  scanner
	tok token
}

func parseWhere(src string) (expr, error) {
	p := &parser{sc: scanner{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEnd {
		return nil, fmt.Errorf("unexpected token %q at %d", p.tok.text, p.tok.at)
	}
	return e, nil
}

func (p *parser) advance() error {
	tok, err := p.sc.scan()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// accept consumes the current token if it has kind k or is the keyword kw
func (p *parser) accept(k tokenKind, kw string) (bool, error) {
	if p.tok.kind != k && !(p.tok.kind == tokWord && kw != "" && strings.EqualFold(p.tok.text, kw)) {
		return false, nil
	}
	return true, p.advance()
}

func (p *parser) or() (expr, error) {
	var terms anyOf
	for {
		e, err := p.and()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
		ok, err := p.accept(tokOr, "or")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *parser) and() (expr, error) {
	var terms allOf
	for {
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
		ok, err := p.accept(tokAnd, "and")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *parser) unary() (expr, error) {
	if ok, err := p.accept(tokNot, "not"); err != nil {
		return nil, err
	} else if ok {
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return negated{inner}, nil
	}

	if ok, err := p.accept(tokOpen, ""); err != nil {
		return nil, err
	} else if ok {
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokClose {
			return nil, fmt.Errorf("expected ')' at %d", p.tok.at)
		}
		return inner, p.advance()
	}
	return p.comparison()
}

func (p *parser) comparison() (expr, error) {
	if p.tok.kind != tokWord {
		return nil, fmt.Errorf("expected field name at %d", p.tok.at)
	}
	c := comparison{field: p.tok.text}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.kind != tokCompare {
		return nil, fmt.Errorf("expected operator after %q at %d", c.field, p.tok.at)
	}
	c.op = p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	switch p.tok.kind {
	case tokWord, tokQuoted, tokPattern:
		c.value = p.tok.text
		c.pattern = p.tok.kind == tokPattern
	default:
		return nil, fmt.Errorf("expected value after %s at %d", c.op, p.tok.at)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return c.bind()
}
