package ts

import (
	"strings"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ARIB STD-B24 part 2 character decoding. Broadcaster strings use an
// ISO-2022-style 8-bit code with four designatable graphic sets. Kanji rows
// are JIS X 0208 and are converted through the x/text ISO-2022-JP decoder;
// the kana and alphanumeric sets are mapped directly. Unmappable characters
// (ARIB gaiji, mosaic, DRCS) come out as a geta mark.

type aribCharSet int

const (
	csKanji aribCharSet = iota
	csAlnum
	csHiragana
	csKatakana
	csHalfKatakana
	csOther // mosaic, DRCS, macros: rendered as geta
)

const getaMark = "〓"

// twoByte reports whether the set consumes two bytes per character.
func (cs aribCharSet) twoByte() bool { return cs == csKanji }

type aribDecoder struct {
	g   [4]aribCharSet
	gl  int
	gr  int
	ss  int // single-shifted G index, -1 when none
	out strings.Builder
}

// DecodeAribString converts an ARIB-encoded byte string to UTF-8.
func DecodeAribString(b []byte) string {
	d := &aribDecoder{
		// Initial designations per STD-B24: G0 kanji, G1 alphanumeric,
		// G2 hiragana, G3 katakana; GL invokes G0 and GR invokes G2.
		g:  [4]aribCharSet{csKanji, csAlnum, csHiragana, csKatakana},
		gl: 0,
		gr: 2,
		ss: -1,
	}
	for i := 0; i < len(b); {
		i += d.step(b[i:])
	}
	return d.out.String()
}

// step consumes one control or character starting at b[0] and returns the
// number of bytes used.
func (d *aribDecoder) step(b []byte) int {
	c := b[0]
	switch {
	case c == 0x1B:
		return d.escape(b)
	case c == 0x0E: // LS1
		d.gl = 1
		return 1
	case c == 0x0F: // LS0
		d.gl = 0
		return 1
	case c == 0x19: // SS2
		d.ss = 2
		return 1
	case c == 0x1D: // SS3
		d.ss = 3
		return 1
	case c == 0x0D:
		d.out.WriteByte('\n')
		return 1
	case c == 0x20:
		d.out.WriteByte(' ')
		return 1
	case c < 0x20:
		return 1 // other C0 controls carry no text
	case c <= 0x7E:
		set := d.g[d.gl]
		if d.ss >= 0 {
			set = d.g[d.ss]
			d.ss = -1
		}
		return d.graphic(set, b, 0)
	case c == 0x7F:
		return 1
	case c >= 0xA1 && c <= 0xFE:
		return d.graphic(d.g[d.gr], b, 0x80)
	default:
		// C1 controls (0x80..0xA0, 0xFF). COL and similar take a parameter
		// byte introduced by 0x20.
		if (c == 0x90 || c == 0x9B || c == 0x9D) && len(b) >= 2 && b[1] == 0x20 {
			return 3
		}
		return 1
	}
}

// graphic emits one character of set. mask strips the GR high bit.
func (d *aribDecoder) graphic(set aribCharSet, b []byte, mask byte) int {
	c := b[0] &^ mask
	if set.twoByte() {
		if len(b) < 2 {
			return 1
		}
		c2 := b[1] &^ mask
		if set == csKanji {
			d.out.WriteString(decodeJISX0208(c, c2))
		} else {
			d.out.WriteString(getaMark)
		}
		return 2
	}
	switch set {
	case csAlnum:
		d.out.WriteByte(c)
	case csHiragana:
		d.out.WriteString(kanaChar(c, 0x3041))
	case csKatakana:
		d.out.WriteString(kanaChar(c, 0x30A1))
	case csHalfKatakana:
		d.out.WriteRune(rune(0xFF61 + int(c) - 0x21))
	default:
		d.out.WriteString(getaMark)
	}
	return 1
}

// kanaChar maps a kana set code point; base is the Unicode origin of the
// small-a character of the set.
func kanaChar(c byte, base rune) string {
	if c >= 0x21 && c <= 0x76 {
		return string(base + rune(c) - 0x21)
	}
	// Shared trailing symbols of both kana sets.
	var tail []string
	if base == 0x3041 {
		tail = []string{"ゝ", "ゞ", "ー", "。", "「", "」", "、", "・"}
	} else {
		tail = []string{"ヽ", "ヾ", "ー", "。", "「", "」", "、", "・"}
	}
	if c >= 0x77 && c <= 0x7E {
		return tail[c-0x77]
	}
	return getaMark
}

// escape handles designation and locking-shift escape sequences. Returns the
// number of bytes consumed including the ESC itself.
func (d *aribDecoder) escape(b []byte) int {
	if len(b) < 2 {
		return 1
	}
	switch b[1] {
	case 0x6E: // LS2
		d.gl = 2
		return 2
	case 0x6F: // LS3
		d.gl = 3
		return 2
	case 0x7E: // LS1R
		d.gr = 1
		return 2
	case 0x7D: // LS2R
		d.gr = 2
		return 2
	case 0x7C: // LS3R
		d.gr = 3
		return 2
	case 0x28, 0x29, 0x2A, 0x2B: // 1-byte set to G0..G3
		if len(b) < 3 {
			return 2
		}
		if b[2] == 0x20 { // DRCS designation has an extra intermediate
			if len(b) < 4 {
				return 3
			}
			d.g[b[1]-0x28] = csOther
			return 4
		}
		d.g[b[1]-0x28] = oneByteSet(b[2])
		return 3
	case 0x24: // 2-byte set
		if len(b) < 3 {
			return 2
		}
		switch b[2] {
		case 0x28, 0x29, 0x2A, 0x2B:
			if len(b) < 4 {
				return 3
			}
			if b[3] == 0x20 {
				if len(b) < 5 {
					return 4
				}
				d.g[b[2]-0x28] = csOther
				return 5
			}
			d.g[b[2]-0x28] = twoByteSet(b[3])
			return 4
		default:
			d.g[0] = twoByteSet(b[2])
			return 3
		}
	}
	return 2
}

func oneByteSet(f byte) aribCharSet {
	switch f {
	case 0x4A: // alphanumeric
		return csAlnum
	case 0x30:
		return csHiragana
	case 0x31:
		return csKatakana
	case 0x49: // JIS X 0201 katakana
		return csHalfKatakana
	default:
		return csOther
	}
}

func twoByteSet(f byte) aribCharSet {
	switch f {
	case 0x42, 0x39, 0x3B: // kanji planes incl. JIS-compatible ones
		return csKanji
	default:
		return csOther
	}
}

// decodeJISX0208 converts one JIS X 0208 code (two 7-bit bytes) to UTF-8.
func decodeJISX0208(b1, b2 byte) string {
	src := []byte{0x1B, 0x24, 0x42, b1, b2, 0x1B, 0x28, 0x42}
	out, _, err := transform.Bytes(japanese.ISO2022JP.NewDecoder(), src)
	if err != nil || len(out) == 0 {
		return getaMark
	}
	s := string(out)
	if strings.ContainsRune(s, '�') {
		return getaMark
	}
	return s
}
