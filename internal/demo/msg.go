package demo

import "encoding/binary"

// msg is a bounded little-endian cursor over one MVD message block.
// Any read past the end sets the sticky bad flag and returns zero values;
// callers check ok() once per command instead of per field.
type msg struct {
	d   []byte
	pos int
	bad bool
}

func newMsg(d []byte) *msg {
	return &msg{d: d}
}

func (m *msg) ok() bool        { return !m.bad }
func (m *msg) remaining() int  { return len(m.d) - m.pos }
func (m *msg) bounds(n int) bool {
	if n < 0 || m.pos+n > len(m.d) {
		m.bad = true
		return false
	}
	return true
}

func (m *msg) u8() uint8 {
	if !m.bounds(1) {
		return 0
	}
	v := m.d[m.pos]
	m.pos++
	return v
}

func (m *msg) i8() int8 { return int8(m.u8()) }

func (m *msg) u16() uint16 {
	if !m.bounds(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(m.d[m.pos:])
	m.pos += 2
	return v
}

func (m *msg) i16() int16 { return int16(m.u16()) }

func (m *msg) u32() uint32 {
	if !m.bounds(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(m.d[m.pos:])
	m.pos += 4
	return v
}

func (m *msg) skip(n int) {
	if m.bounds(n) {
		m.pos += n
	}
}

// str reads a NUL-terminated string. The wire encoding is latin-1,
// so high bytes map to their code points directly.
func (m *msg) str() string {
	if m.bad {
		return ""
	}
	start := m.pos
	for m.pos < len(m.d) && m.d[m.pos] != 0 {
		m.pos++
	}
	s := latin1(m.d[start:m.pos])
	m.pos++ // terminator (may step past end of slice; that is fine)
	return s
}

// blob reads a u8 length-prefixed byte run.
func (m *msg) blob() []byte {
	n := int(m.u8())
	if n == 0 || !m.bounds(n) {
		return nil
	}
	b := m.d[m.pos : m.pos+n]
	m.pos += n
	return b
}

// read returns the next n bytes without copying.
func (m *msg) read(n int) []byte {
	if !m.bounds(n) {
		return nil
	}
	b := m.d[m.pos : m.pos+n]
	m.pos += n
	return b
}

func latin1(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
