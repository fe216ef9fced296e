package demo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire constants for the MVD2 container (Quake 2 protocol 37 / q2pro).
const (
	maxConfigStrings = 2080
	maxClients       = 256
	maxStats         = 32
	clientNumNone    = 255

	svcmdBits = 5
	svcmdMask = (1 << svcmdBits) - 1
)

var mvdMagic = []byte("MVD2")

// MVD command opcodes (low 5 bits of the command byte).
const (
	mvdNop           = 1
	mvdServerData    = 4
	mvdConfigString  = 5
	mvdFrame         = 6
	mvdUnicast       = 8
	mvdUnicastR      = 9
	mvdMulticastAll  = 10
	mvdMulticastPVSR = 15
	mvdSound         = 16
	mvdPrint         = 17
)

// Player-state delta bits.
const (
	pType        = 1 << 0
	pOrigin      = 1 << 1 // x, y as int16
	pOrigin2     = 1 << 2 // z as int16
	pViewOffset  = 1 << 3
	pViewAngles  = 1 << 4 // pitch, yaw as int16
	pViewAngle2  = 1 << 5
	pKickAngles  = 1 << 6
	pBlend       = 1 << 7
	pFOV         = 1 << 8
	pWeaponIndex = 1 << 9
	pWeaponFrame = 1 << 10
	pGunOffset   = 1 << 11
	pGunAngles   = 1 << 12
	pRDFlags     = 1 << 13
	pStats       = 1 << 14
	pRemove      = 1 << 15 // player disconnect
)

// Entity-delta bits, consumed field-accurate but otherwise ignored.
const (
	eOrigin1    = 1 << 0
	eOrigin2    = 1 << 1
	eAngle2     = 1 << 2
	eAngle3     = 1 << 3
	eFrame8     = 1 << 4
	eEvent      = 1 << 5
	eRemove     = 1 << 6
	eMoreBits1  = 1 << 7
	eNumber16   = 1 << 8
	eOrigin3    = 1 << 9
	eAngle1     = 1 << 10
	eModel      = 1 << 11
	eRenderFX8  = 1 << 12
	eEffects8   = 1 << 14
	eMoreBits2  = 1 << 15
	eSkin8      = 1 << 16
	eFrame16    = 1 << 17
	eRenderFX16 = 1 << 18
	eEffects16  = 1 << 19
	eModel2     = 1 << 20
	eModel3     = 1 << 21
	eModel4     = 1 << 22
	eMoreBits3  = 1 << 23
	eOldOrigin  = 1 << 24
	eSkin16     = 1 << 25
	eSound      = 1 << 26
	eSolid      = 1 << 27

	eFrame32    = eFrame8 | eFrame16
	eSkin32     = eSkin8 | eSkin16
	eEffects32  = eEffects8 | eEffects16
	eRenderFX32 = eRenderFX8 | eRenderFX16
)

// Configstring index layout.
const (
	csModelsLo    = 32 // q2pro/aqtion world BSP can sit anywhere in 32..39
	csModelsHi    = 39
	csPlayerSkins = 1312
)

// CoordScale converts Q2 12.3 fixed-point coordinates to world units.
// AngleScale converts uint16 wire angles to degrees.
const (
	CoordScale = 1.0 / 8.0
	AngleScale = 360.0 / 65536.0
)

// ErrFormat matches any header rejection via errors.Is.
var ErrFormat = errors.New("unrecognized demo format")

// FormatError reports a demo whose top-level header is not MVD2.
// It is the only hard failure the decoder produces; everything past
// the header degrades to a partial result.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "demo format: " + e.Msg }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// PlayerDelta is one player-state delta from a frame message. Only the
// fields the replay needs are surfaced; everything else is consumed by
// the wire walk and discarded.
type PlayerDelta struct {
	Client int
	Remove bool

	HasOrigin  bool
	OX, OY     int16
	HasOriginZ bool
	OZ         int16
	HasYaw     bool
	Yaw        int16
	HasWeapon  bool
	Weapon     uint8
}

// Message is one typed event from the demo stream.
type Message interface{ isMessage() }

// ServerData opens the stream: protocol identification plus the
// recorder's client number. Configstrings and the base frame that
// follow it on the wire are emitted as their own messages.
type ServerData struct {
	Protocol    uint32
	Flavor      uint16
	ServerCount uint32
	GameDir     string
	ClientNum   int16
}

// ConfigString is one (index, value) configuration update.
type ConfigString struct {
	Index int
	Value string
}

// FrameDelta carries the player-state deltas for one frame boundary.
type FrameDelta struct {
	Players []PlayerDelta
}

// Print is an MVD-level broadcast print (round wins, scores).
type Print struct {
	Level int
	Text  string
}

// Unicast is an SVC payload addressed to a single client.
type Unicast struct {
	Client int
	Events SVCEvents
}

// Multicast is an SVC payload broadcast to an area or the whole server.
type Multicast struct {
	Events SVCEvents
}

// EndOfDemo marks the explicit zero-length terminator block.
type EndOfDemo struct{}

func (ServerData) isMessage()   {}
func (ConfigString) isMessage() {}
func (FrameDelta) isMessage()   {}
func (Print) isMessage()        {}
func (Unicast) isMessage()      {}
func (Multicast) isMessage()    {}
func (EndOfDemo) isMessage()    {}

// Decoder walks the MVD2 block stream and yields typed messages lazily.
// On any malformed command (unknown opcode, length past the end of the
// input) it stops consuming and reports Truncated; everything decoded up
// to that point remains valid.
type Decoder struct {
	data      []byte
	pos       int
	block     *msg
	queue     []Message
	done      bool
	sawEnd    bool
	truncated bool
}

// NewDecoder validates the MVD2 magic and positions the cursor on the
// first block. A bad magic is the one fatal condition.
func NewDecoder(data []byte) (*Decoder, error) {
	if len(data) < len(mvdMagic) || !bytes.Equal(data[:4], mvdMagic) {
		return nil, &FormatError{Msg: fmt.Sprintf("bad magic %q", clip(data, 4))}
	}
	return &Decoder{data: data, pos: 4}, nil
}

// Truncated reports whether the stream ended before its explicit
// terminator: a short final block, a malformed command, or plain EOF.
func (d *Decoder) Truncated() bool { return d.truncated }

// Next returns the next message. ok=false means the stream is exhausted;
// check Truncated for how it ended.
func (d *Decoder) Next() (Message, bool) {
	for {
		if len(d.queue) > 0 {
			m := d.queue[0]
			d.queue = d.queue[1:]
			return m, true
		}
		if d.done {
			return nil, false
		}
		if d.block == nil || d.block.remaining() <= 0 || d.block.bad {
			if !d.nextBlock() {
				d.done = true
				continue
			}
		}
		if !d.command() {
			// Malformed command: stop consuming per the resilience
			// contract, returning whatever was already queued.
			d.done = true
			d.truncated = true
			continue
		}
	}
}

// Drain consumes the remainder of the stream and returns every message.
func (d *Decoder) Drain() []Message {
	var out []Message
	for {
		m, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func (d *Decoder) nextBlock() bool {
	if d.pos+2 > len(d.data) {
		if !d.sawEnd {
			d.truncated = true // ran out without the zero terminator
		}
		return false
	}
	n := int(binary.LittleEndian.Uint16(d.data[d.pos:]))
	d.pos += 2
	if n == 0 {
		d.sawEnd = true
		d.queue = append(d.queue, EndOfDemo{})
		return false
	}
	if d.pos+n > len(d.data) {
		d.truncated = true
		return false
	}
	d.block = newMsg(d.data[d.pos : d.pos+n])
	d.pos += n
	return true
}

// command decodes one MVD command from the current block and queues the
// resulting message(s). Returns false on malformed input.
func (d *Decoder) command() bool {
	m := d.block
	cb := m.u8()
	if !m.ok() {
		return false
	}
	extra := int(cb >> svcmdBits)
	cmd := int(cb & svcmdMask)

	switch cmd {
	case mvdNop:
		return true

	case mvdServerData:
		sd := ServerData{
			Protocol:    m.u32(),
			Flavor:      m.u16(),
			ServerCount: m.u32(),
			GameDir:     m.str(),
			ClientNum:   m.i16(),
		}
		if !m.ok() {
			return false
		}
		d.queue = append(d.queue, sd)
		// Configstrings until the sentinel index.
		for {
			idx := int(m.u16())
			if !m.ok() {
				return false
			}
			if idx >= maxConfigStrings {
				break
			}
			val := m.str()
			if !m.ok() {
				return false
			}
			d.queue = append(d.queue, ConfigString{Index: idx, Value: val})
		}
		// Base frame.
		fd, ok := readFrame(m)
		if !ok {
			return false
		}
		d.queue = append(d.queue, fd)
		return true

	case mvdConfigString:
		idx := int(m.u16())
		if !m.ok() || idx >= maxConfigStrings {
			return false
		}
		val := m.str()
		if !m.ok() {
			return false
		}
		d.queue = append(d.queue, ConfigString{Index: idx, Value: val})
		return true

	case mvdFrame:
		fd, ok := readFrame(m)
		if !ok {
			return false
		}
		d.queue = append(d.queue, fd)
		return true

	case mvdUnicast, mvdUnicastR:
		// The length covers the SVC payload only; the client number is a
		// separate byte after it, not counted in the length.
		length := int(m.u8()) | extra<<8
		client := int(m.u8())
		payload := m.read(length)
		if !m.ok() {
			return false
		}
		d.queue = append(d.queue, Unicast{Client: client, Events: scanSVC(payload)})
		return true

	case mvdSound:
		skipSoundMsg(m)
		return m.ok()

	case mvdPrint:
		level := int(m.u8())
		text := m.str()
		if !m.ok() {
			return false
		}
		d.queue = append(d.queue, Print{Level: level, Text: text})
		return true

	default:
		if cmd >= mvdMulticastAll && cmd <= mvdMulticastPVSR {
			length := int(m.u8()) | extra<<8
			if (cmd-mvdMulticastAll)%3 != 0 {
				m.skip(2) // PHS/PVS flavours carry a leafnum
			}
			payload := m.read(length)
			if !m.ok() {
				return false
			}
			d.queue = append(d.queue, Multicast{Events: scanSVC(payload)})
			return true
		}
		return false // unknown opcode
	}
}

// readFrame consumes one frame message: portalbits, player deltas until
// the CLIENTNUM_NONE sentinel, then entity deltas until entity 0.
func readFrame(m *msg) (FrameDelta, bool) {
	m.blob() // portalbits, ignored
	if !m.ok() {
		return FrameDelta{}, false
	}

	var fd FrameDelta
	for {
		p, done := readPlayer(m)
		if !m.ok() {
			return FrameDelta{}, false
		}
		if done {
			break
		}
		fd.Players = append(fd.Players, p)
	}

	// Entity deltas carry nothing the replay needs; walk them so the
	// cursor stays aligned for the rest of the block. An overrun here
	// abandons the rest of the block rather than the whole stream.
	for m.ok() {
		if !skipEntity(m) {
			break
		}
	}
	if !m.ok() {
		m.pos = len(m.d)
		m.bad = false
	}
	return fd, true
}

func readPlayer(m *msg) (PlayerDelta, bool) {
	num := int(m.u8())
	if num == clientNumNone {
		return PlayerDelta{}, true
	}
	bits := m.u16()
	p := PlayerDelta{Client: num, Remove: bits&pRemove != 0}

	if bits&pType != 0 {
		m.u8()
	}
	if bits&pOrigin != 0 {
		p.HasOrigin = true
		p.OX = m.i16()
		p.OY = m.i16()
	}
	if bits&pOrigin2 != 0 {
		p.HasOriginZ = true
		p.OZ = m.i16()
	}
	if bits&pViewOffset != 0 {
		m.skip(3)
	}
	if bits&pViewAngles != 0 {
		m.skip(2) // pitch
		p.HasYaw = true
		p.Yaw = m.i16()
	}
	if bits&pViewAngle2 != 0 {
		m.skip(2)
	}
	if bits&pKickAngles != 0 {
		m.skip(3)
	}
	if bits&pWeaponIndex != 0 {
		p.HasWeapon = true
		p.Weapon = m.u8()
	}
	if bits&pWeaponFrame != 0 {
		m.u8()
	}
	if bits&pGunOffset != 0 {
		m.skip(3)
	}
	if bits&pGunAngles != 0 {
		m.skip(3)
	}
	if bits&pBlend != 0 {
		m.skip(4)
	}
	if bits&pFOV != 0 {
		m.u8()
	}
	if bits&pRDFlags != 0 {
		m.u8()
	}
	if bits&pStats != 0 {
		statbits := m.u32()
		for i := 0; i < maxStats; i++ {
			if statbits&(1<<uint(i)) != 0 {
				m.skip(2)
			}
		}
	}
	return p, false
}

// skipEntity consumes one entity delta. Returns false when entity
// number 0 terminates the list.
func skipEntity(m *msg) bool {
	bits := uint32(m.u8())
	if bits&eMoreBits1 != 0 {
		bits |= uint32(m.u8()) << 8
	}
	if bits&eMoreBits2 != 0 {
		bits |= uint32(m.u8()) << 16
	}
	if bits&eMoreBits3 != 0 {
		bits |= uint32(m.u8()) << 24
	}

	var num int
	if bits&eNumber16 != 0 {
		num = int(m.u16())
	} else {
		num = int(m.u8())
	}
	if num == 0 || !m.ok() {
		return false
	}
	if bits&eRemove != 0 {
		return true
	}

	if bits&eModel != 0 {
		m.u8()
	}
	if bits&eModel2 != 0 {
		m.u8()
	}
	if bits&eModel3 != 0 {
		m.u8()
	}
	if bits&eModel4 != 0 {
		m.u8()
	}

	switch bits & eFrame32 {
	case eFrame32: // not a valid encoding; nothing extra to skip
	case eFrame16:
		m.skip(2)
	case eFrame8:
		m.u8()
	}
	switch bits & eSkin32 {
	case eSkin32:
		m.skip(4)
	case eSkin16:
		m.skip(2)
	case eSkin8:
		m.u8()
	}
	switch bits & eEffects32 {
	case eEffects32:
		m.skip(4)
	case eEffects16:
		m.skip(2)
	case eEffects8:
		m.u8()
	}
	switch bits & eRenderFX32 {
	case eRenderFX32:
		m.skip(4)
	case eRenderFX16:
		m.skip(2)
	case eRenderFX8:
		m.u8()
	}

	if bits&eOrigin1 != 0 {
		m.skip(2)
	}
	if bits&eOrigin2 != 0 {
		m.skip(2)
	}
	if bits&eOrigin3 != 0 {
		m.skip(2)
	}
	if bits&eAngle1 != 0 {
		m.u8()
	}
	if bits&eAngle2 != 0 {
		m.u8()
	}
	if bits&eAngle3 != 0 {
		m.u8()
	}
	if bits&eOldOrigin != 0 {
		m.skip(6)
	}
	if bits&eSound != 0 {
		m.u8()
	}
	if bits&eEvent != 0 {
		m.u8()
	}
	if bits&eSolid != 0 {
		m.skip(2)
	}
	return m.ok()
}

// skipSoundMsg consumes an MVD-level sound command.
func skipSoundMsg(m *msg) {
	flags := m.u8()
	m.u8() // index
	if flags&1 != 0 {
		m.u8() // volume
	}
	if flags&2 != 0 {
		m.u8() // attenuation
	}
	if flags&16 != 0 {
		m.u8() // offset
	}
	m.skip(2) // channel word
}

func clip(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
