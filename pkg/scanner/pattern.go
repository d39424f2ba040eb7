package scanner

import (
	"context"
	"regexp"
)

// PatternScanner detects traits with compiled regular expressions.
// This is the built-in scanner; deployments extend it with HTTP or
// WASM scanners for model-based detection.
type PatternScanner struct {
	name     string
	patterns map[string]*regexp.Regexp // trait -> pattern
}

// NewPatternScanner compiles the given trait patterns.
func NewPatternScanner(name string, patterns map[string]string) (*PatternScanner, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for trait, expr := range patterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		compiled[trait] = re
	}
	return &PatternScanner{name: name, patterns: compiled}, nil
}

// NewDefaultPIIScanner returns a PatternScanner for common PII shapes.
func NewDefaultPIIScanner() *PatternScanner {
	s, _ := NewPatternScanner("builtin-pii", map[string]string{
		"PII_EMAIL":       `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
		"PII_SSN":         `\b\d{3}-\d{2}-\d{4}\b`,
		"PII_PHONE":       `\b\+?\d{1,3}[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`,
		"PII_CREDIT_CARD": `\b(?:\d[ \-]?){13,16}\b`,
	})
	return s
}

func (s *PatternScanner) Name() string { return s.name }

func (s *PatternScanner) Scan(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res := Result{MaskedValues: make(map[string]string)}
	for trait, re := range s.patterns {
		if !re.MatchString(text) {
			continue
		}
		res.Traits = append(res.Traits, trait)
		res.MaskedValues[trait] = re.ReplaceAllString(text, "<<"+trait+">>")
	}
	return res, nil
}
