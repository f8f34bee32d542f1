// Package answer normalizes and verifies submitted answers against a
// stored truth hash. All comparisons are constant-time: a wrong answer
// takes the same number of byte comparisons no matter where it
// diverges from the truth.
package answer

import (
	"crypto/subtle"
	"errors"
	"strings"

	"casefile/internal/crypto"
)

// Verdict is the outcome of verifying a single submission.
type Verdict int

const (
	Incorrect Verdict = iota
	Correct
	// FormatError means the submission was malformed for this
	// challenge (missing proof suffix), not that the answer was
	// wrong. Reported distinctly so rate limiting can weight it
	// differently from a guess.
	FormatError
)

func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case FormatError:
		return "format_error"
	default:
		return "incorrect"
	}
}

// suffixDelimiter separates the primary answer from its proof suffix
// in two-part submissions ("answer:suffix").
const suffixDelimiter = ":"

var (
	ErrEmptyAnswer = errors.New("answer is empty")
	ErrTooLong     = errors.New("answer exceeds maximum length")
)

// Options come from the challenge record, not from global config:
// some answers are case-sensitive identifiers, some tolerate sloppy
// internal whitespace.
type Options struct {
	CaseSensitive      bool
	CollapseWhitespace bool
	RequireSuffix      bool
	// SuffixLength is the number of hex characters of the primary
	// answer's digest the proof suffix must match.
	SuffixLength int
	// MaxLength bounds the raw input before any other work.
	MaxLength int
}

// Normalized is the canonical form of a submission.
type Normalized struct {
	Primary   string
	Suffix    string
	HasSuffix bool
}

// Normalize canonicalizes raw submitted text. The suffix split only
// happens for challenges that declare a proof suffix, so answers that
// legitimately contain a colon are left intact everywhere else.
func Normalize(raw string, opts Options) (Normalized, error) {
	if opts.MaxLength > 0 && len(raw) > opts.MaxLength {
		return Normalized{}, ErrTooLong
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return Normalized{}, ErrEmptyAnswer
	}

	var n Normalized
	if opts.RequireSuffix {
		if primary, suffix, found := strings.Cut(text, suffixDelimiter); found {
			n.Primary = strings.TrimSpace(primary)
			n.Suffix = strings.ToLower(strings.TrimSpace(suffix))
			n.HasSuffix = n.Suffix != ""
		} else {
			n.Primary = text
		}
	} else {
		n.Primary = text
	}

	if !opts.CaseSensitive {
		n.Primary = strings.ToLower(n.Primary)
	}
	if opts.CollapseWhitespace {
		n.Primary = strings.Join(strings.Fields(n.Primary), " ")
	}
	if n.Primary == "" {
		return Normalized{}, ErrEmptyAnswer
	}

	return n, nil
}

// Verify compares a normalized submission against the stored truth
// hash. When a proof suffix is required it must equal a fixed-length
// prefix of the digest of the primary answer itself, which binds the
// suffix to knowledge of the answer: the suffix alone proves nothing.
func Verify(n Normalized, truthHash string, opts Options) Verdict {
	if opts.RequireSuffix && !n.HasSuffix {
		return FormatError
	}

	digest := crypto.HashHex(n.Primary)
	match := subtle.ConstantTimeCompare([]byte(digest), []byte(truthHash))

	if opts.RequireSuffix {
		length := opts.SuffixLength
		if length <= 0 || length > len(digest) {
			length = 8
		}
		suffixMatch := subtle.ConstantTimeCompare([]byte(n.Suffix), []byte(digest[:length]))
		match &= suffixMatch
	}

	if match == 1 {
		return Correct
	}
	return Incorrect
}
