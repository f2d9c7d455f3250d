// Package relation encodes and decodes the compact relation notation carried
// on child specimen codes, and normalizes imported free-text relation labels
// to the canonical role vocabulary.
//
// The compact form {childCode}({linkedCode}){M|F} exists only for external
// display and legacy compatibility. Internally a specimen carries the tagged
// triple {role, sex, linkedCode}; callers should decode once at the boundary
// and never pass the string form around.
package relation

import (
	"strings"

	"helixcore/pkg/domain"
)

// Code is the decoded form of a child specimen's relation notation.
type Code struct {
	ChildCode  string
	LinkedCode string
	Sex        domain.Sex
}

// Encode renders the compact relation notation for a child specimen linked
// to an alleged-father specimen.
func Encode(childCode, linkedCode string, sex domain.Sex) string {
	return childCode + "(" + linkedCode + ")" + string(sex)
}

// Decode parses the compact notation back into its three parts. All three
// must be present and well formed.
func Decode(input string) (Code, error) {
	lparen := strings.IndexByte(input, '(')
	rparen := strings.LastIndexByte(input, ')')
	if lparen <= 0 || rparen != len(input)-2 || rparen < lparen {
		return Code{}, domain.MalformedRelationCodeError{Input: input}
	}
	child := input[:lparen]
	linked := input[lparen+1 : rparen]
	sex := domain.Sex(input[rparen+1:])
	if linked == "" || (sex != domain.SexMale && sex != domain.SexFemale) {
		return Code{}, domain.MalformedRelationCodeError{Input: input}
	}
	return Code{ChildCode: child, LinkedCode: linked, Sex: sex}, nil
}

// NormalizeRole maps a free-text relation label to the canonical role
// vocabulary. Matching is case-insensitive; an embedded parenthesised link
// and a trailing M/F sex token are stripped before matching. Labels that
// match no role return ok=false.
func NormalizeRole(label string) (domain.SpecimenRole, bool) {
	s := strings.TrimSpace(label)
	if open := strings.IndexByte(s, '('); open >= 0 {
		tail := ""
		if close := strings.LastIndexByte(s, ')'); close > open {
			tail = s[close+1:]
		}
		s = strings.TrimSpace(s[:open]) + tail
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "m"), "f")
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	switch s {
	case "mother":
		return domain.RoleMother, true
	case "alleged father", "father":
		return domain.RoleAllegedFather, true
	case "child":
		return domain.RoleChild, true
	}
	return "", false
}
