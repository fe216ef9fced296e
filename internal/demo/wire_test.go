package demo

import (
	"bytes"
	"encoding/binary"
)

// wbuf builds little-endian wire payloads for test streams.
type wbuf struct{ bytes.Buffer }

func (b *wbuf) u8(v uint8) { b.WriteByte(v) }

func (b *wbuf) u16(v uint16) {
	var t [2]byte
	binary.LittleEndian.PutUint16(t[:], v)
	b.Write(t[:])
}

func (b *wbuf) i16(v int16) { b.u16(uint16(v)) }

func (b *wbuf) u32(v uint32) {
	var t [4]byte
	binary.LittleEndian.PutUint32(t[:], v)
	b.Write(t[:])
}

func (b *wbuf) str(s string) {
	b.WriteString(s)
	b.WriteByte(0)
}

// demoWriter assembles a synthetic MVD2 stream block by block.
type demoWriter struct{ buf bytes.Buffer }

func newDemoWriter() *demoWriter {
	w := &demoWriter{}
	w.buf.WriteString("MVD2")
	return w
}

func (w *demoWriter) block(payload []byte) *demoWriter {
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(payload)))
	w.buf.Write(n[:])
	w.buf.Write(payload)
	return w
}

// raw returns the stream without the zero-length terminator.
func (w *demoWriter) raw() []byte { return w.buf.Bytes() }

// finish appends the clean end-of-demo terminator.
func (w *demoWriter) finish() []byte {
	w.buf.Write([]byte{0, 0})
	return w.buf.Bytes()
}

// testPlayer is one player delta for synthetic frames.
type testPlayer struct {
	num        int
	remove     bool
	hasOrigin  bool
	ox, oy, oz int16
	hasYaw     bool
	yaw        int16
	hasWeapon  bool
	weapon     uint8
}

func fullPlayer(num int, ox, oy, oz, yaw int16) testPlayer {
	return testPlayer{num: num, hasOrigin: true, ox: ox, oy: oy, oz: oz, hasYaw: true, yaw: yaw}
}

func (p testPlayer) encode(b *wbuf) {
	b.u8(uint8(p.num))
	var bits uint16
	if p.remove {
		bits |= pRemove
	}
	if p.hasOrigin {
		bits |= pOrigin | pOrigin2
	}
	if p.hasYaw {
		bits |= pViewAngles
	}
	if p.hasWeapon {
		bits |= pWeaponIndex
	}
	b.u16(bits)
	if p.hasOrigin {
		b.i16(p.ox)
		b.i16(p.oy)
		b.i16(p.oz)
	}
	if p.hasYaw {
		b.i16(0) // pitch
		b.i16(p.yaw)
	}
	if p.hasWeapon {
		b.u8(p.weapon)
	}
}

// frameBody writes portalbits, player deltas and the empty entity list.
func frameBody(b *wbuf, players ...testPlayer) {
	b.u8(0) // no portalbits
	for _, p := range players {
		p.encode(b)
	}
	b.u8(clientNumNone)
	b.u8(0) // entity bits
	b.u8(0) // entity 0 terminates
}

func frameCmd(players ...testPlayer) []byte {
	var b wbuf
	b.u8(mvdFrame)
	frameBody(&b, players...)
	return b.Bytes()
}

type testCS struct {
	idx int
	val string
}

// serverDataCmd writes the stream-opening command: identification,
// configstrings, base frame.
func serverDataCmd(gamedir string, clientNum int16, cs []testCS, players ...testPlayer) []byte {
	var b wbuf
	b.u8(mvdServerData)
	b.u32(37)
	b.u16(0)
	b.u32(1)
	b.str(gamedir)
	b.i16(clientNum)
	for _, c := range cs {
		b.u16(uint16(c.idx))
		b.str(c.val)
	}
	b.u16(maxConfigStrings)
	frameBody(&b, players...)
	return b.Bytes()
}

func configStringCmd(idx int, val string) []byte {
	var b wbuf
	b.u8(mvdConfigString)
	b.u16(uint16(idx))
	b.str(val)
	return b.Bytes()
}

func unicastCmd(client int, svc []byte) []byte {
	var b wbuf
	b.u8(mvdUnicast | uint8(len(svc)>>8)<<svcmdBits)
	b.u8(uint8(len(svc)))
	b.u8(uint8(client))
	b.Write(svc)
	return b.Bytes()
}

func multicastCmd(svc []byte) []byte {
	var b wbuf
	b.u8(mvdMulticastAll | uint8(len(svc)>>8)<<svcmdBits)
	b.u8(uint8(len(svc)))
	b.Write(svc)
	return b.Bytes()
}

func printCmd(level int, text string) []byte {
	var b wbuf
	b.u8(mvdPrint)
	b.u8(uint8(level))
	b.str(text)
	return b.Bytes()
}

func svcPrintMsg(level int, text string) []byte {
	var b wbuf
	b.u8(svcPrint)
	b.u8(uint8(level))
	b.str(text)
	return b.Bytes()
}

func svcCenterPrintMsg(text string) []byte {
	var b wbuf
	b.u8(svcCenterPrint)
	b.str(text)
	return b.Bytes()
}

func svcMuzzleFlashMsg(entity int16, mz uint8) []byte {
	var b wbuf
	b.u8(svcMuzzleFlash)
	b.i16(entity)
	b.u8(mz)
	return b.Bytes()
}
