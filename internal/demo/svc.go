package demo

// SVC opcodes (Q2 protocol 34/37) appearing inside unicast and
// multicast payloads.
const (
	svcMuzzleFlash  = 1
	svcLayout       = 4
	svcInventory    = 5
	svcSound        = 9
	svcPrint        = 10
	svcStuffText    = 11
	svcConfigString = 13
	svcCenterPrint  = 15
)

// Print levels.
const (
	PrintLow    = 0
	PrintMedium = 1 // kill announcements
	PrintHigh   = 2 // per-player messages ("You hit X in the Y")
	PrintChat   = 3
)

// SVCPrint is one svc_print with its routing level.
type SVCPrint struct {
	Level int
	Text  string
}

// SVCMuzzleFlash is one weapon discharge. Client is the entity number
// minus one; Weapon is the wire MZ code with the silenced bit stripped.
type SVCMuzzleFlash struct {
	Client int
	Weapon uint8
}

// SVCEvents collects everything the replay cares about from one SVC
// payload. Layouts, stufftext, inventories and sounds are skipped by
// format; an unknown opcode abandons the rest of this payload only.
type SVCEvents struct {
	Prints        []SVCPrint
	CenterPrints  []string
	MuzzleFlashes []SVCMuzzleFlash
}

// scanSVC walks an SVC byte stream extracted from a unicast or
// multicast payload. The payload is length-prefixed on the wire, so a
// bad opcode here never desynchronizes the outer message stream.
func scanSVC(payload []byte) SVCEvents {
	var ev SVCEvents
	m := newMsg(payload)

	for m.ok() && m.remaining() > 0 {
		switch int(m.u8()) {
		case svcPrint:
			level := int(m.u8())
			text := m.str()
			if !m.ok() {
				return ev
			}
			ev.Prints = append(ev.Prints, SVCPrint{Level: level, Text: text})

		case svcCenterPrint:
			text := m.str()
			if !m.ok() {
				return ev
			}
			ev.CenterPrints = append(ev.CenterPrints, text)

		case svcLayout, svcStuffText:
			m.str()

		case svcMuzzleFlash:
			entity := int(m.i16())
			mz := m.u8() & 0x7f // strip MZ_SILENCED
			if !m.ok() {
				return ev
			}
			if client := entity - 1; client >= 0 {
				ev.MuzzleFlashes = append(ev.MuzzleFlashes, SVCMuzzleFlash{Client: client, Weapon: mz})
			}

		case svcConfigString:
			m.skip(2)
			m.str()

		case svcInventory:
			m.skip(512) // 256 × uint16

		case svcSound:
			flags := m.u8()
			m.u8() // index
			if flags&1 != 0 {
				m.u8()
			}
			if flags&2 != 0 {
				m.u8()
			}
			if flags&16 != 0 {
				m.u8()
			}
			m.skip(2) // channel word

		default:
			return ev // unknown opcode — abandon this payload
		}
	}
	return ev
}
