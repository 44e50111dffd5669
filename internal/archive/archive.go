// Package archive parses ar-convention archives (§4.3): the common Unix
// archive format also used by COFF import/static libraries on Windows.
package archive

import (
	"strconv"
	"strings"

	"github.com/arklink/arklink/internal/diag"
)

const (
	magicNormal = "!<arch>\n"
	magicThin   = "!<thin>\n"

	headerSize = 60
	magicSize  = 8
)

// MemberKind distinguishes the payload format of one archive member.
type MemberKind int

const (
	MemberRO MemberKind = iota
	MemberCOFF
	MemberUnknown
)

// Member is one non-special entry in an archive: a name plus the byte range
// of its payload within the archive's backing bytes.
type Member struct {
	Name  string
	Bytes []byte
	Kind  MemberKind
}

// Archive is the parsed form of one ar-convention byte blob. Special members
// (names starting with "/", "//", or "__.SYMDEF") are skipped entirely, per
// §4.3 — this core rebuilds the needed-symbol index itself (internal/resolve)
// rather than consuming the archive's own symbol index.
type Archive struct {
	Path    string
	Thin    bool
	Members []Member
}

// Parse reads the member sequence of one archive blob. It does not extract
// thin-archive remote members (§1 non-goal); Thin is set so callers can
// surface diag.Unsupported if they try to use one.
func Parse(path string, data []byte) (*Archive, error) {
	if len(data) < magicSize {
		return nil, diag.Wrap(diag.BadFormat, path, "truncated archive magic", nil)
	}
	magic := string(data[:magicSize])
	thin := false
	switch magic {
	case magicNormal:
	case magicThin:
		thin = true
	default:
		return nil, diag.Newf(diag.BadFormat, "%s: not an ar archive", path)
	}

	a := &Archive{Path: path, Thin: thin}
	pos := magicSize
	for pos < len(data) {
		// ar members are 2-byte aligned; skip a single pad byte between them.
		if pos+1 < len(data) && data[pos] == '\n' {
			pos++
			continue
		}
		if pos+headerSize > len(data) {
			return nil, diag.Wrap(diag.BadFormat, path, "truncated member header", nil)
		}
		hdr := data[pos : pos+headerSize]
		name := strings.TrimRight(string(hdr[0:16]), " ")
		sizeField := strings.TrimSpace(string(hdr[48:58]))
		terminator := string(hdr[58:60])
		if terminator != "`\n" {
			return nil, diag.Newf(diag.BadFormat, "%s: bad member header terminator at offset %d", path, pos)
		}
		size, err := strconv.Atoi(sizeField)
		if err != nil || size < 0 {
			return nil, diag.Wrap(diag.BadFormat, path, "bad member size field", err)
		}

		bodyStart := pos + headerSize
		bodyEnd := bodyStart + size
		if bodyEnd > len(data) {
			return nil, diag.Wrap(diag.BadFormat, path, "member payload exceeds archive length", nil)
		}

		special := strings.HasPrefix(name, "/") || strings.HasPrefix(name, "//") || strings.HasPrefix(name, "__.SYMDEF")
		if !special {
			a.Members = append(a.Members, Member{
				Name:  strings.TrimSuffix(name, "/"),
				Bytes: data[bodyStart:bodyEnd],
				Kind:  classify(data[bodyStart:bodyEnd]),
			})
		}

		pos = bodyEnd
		if size%2 != 0 {
			pos++ // trailing pad byte
		}
	}
	return a, nil
}

// classify guesses the member payload format from its leading bytes so the
// loader can dispatch to rofmt or coffobj without the caller needing to know
// in advance which kind of object each archive holds.
func classify(payload []byte) MemberKind {
	if len(payload) >= 4 && payload[0] == 0x4F && payload[1] == 0x45 && payload[2] == 0x23 && payload[3] == 0x45 {
		return MemberRO
	}
	if len(payload) >= 2 {
		machine := uint16(payload[0]) | uint16(payload[1])<<8
		switch machine {
		case 0x8664, 0x014c, 0x0200, 0xaa64:
			return MemberCOFF
		}
	}
	return MemberUnknown
}

// Count reports the number of non-special members.
func (a *Archive) Count() int { return len(a.Members) }

// Name returns the i-th member's name.
func (a *Archive) Name(i int) string { return a.Members[i].Name }
