package visa

import (
	"encoding/binary"
	"fmt"
)

// USBTMC bulk message IDs
const (
	MsgDevDepOut    = 0x01
	MsgRequestDevIn = 0x02
	MsgDevDepIn     = 0x02
)

// Transfer attribute bits
const (
	AttrEOM = 0x01 // Last byte of the transfer ends the message
)

// HeaderSize is the fixed USBTMC bulk header length.
const HeaderSize = 12

// USBTMCProtocol handles encoding/decoding of USBTMC bulk transfers. It owns
// the bTag sequence, which must differ between consecutive transfers.
type USBTMCProtocol struct {
	tag byte
}

// NewUSBTMCProtocol creates a protocol handler starting at bTag 1.
func NewUSBTMCProtocol() *USBTMCProtocol {
	return &USBTMCProtocol{}
}

// nextTag returns the next bTag, cycling through 1..255.
func (p *USBTMCProtocol) nextTag() byte {
	p.tag++
	if p.tag == 0 {
		p.tag = 1
	}
	return p.tag
}

func (p *USBTMCProtocol) header(msgID byte, size uint32, attr byte) []byte {
	tag := p.nextTag()
	h := make([]byte, HeaderSize)
	h[0] = msgID
	h[1] = tag
	h[2] = ^tag
	binary.LittleEndian.PutUint32(h[4:8], size)
	h[8] = attr
	return h
}

// EncodeDevDepOut frames one complete program message. The payload is padded
// to a 4-byte boundary as the bulk-out endpoint requires.
func (p *USBTMCProtocol) EncodeDevDepOut(msg []byte) []byte {
	pkt := p.header(MsgDevDepOut, uint32(len(msg)), AttrEOM)
	pkt = append(pkt, msg...)
	if pad := (4 - len(msg)%4) % 4; pad > 0 {
		pkt = append(pkt, make([]byte, pad)...)
	}
	return pkt
}

// EncodeRequestDevDepIn asks the device to send up to maxSize bytes.
func (p *USBTMCProtocol) EncodeRequestDevDepIn(maxSize uint32) []byte {
	return p.header(MsgRequestDevIn, maxSize, 0)
}

// DecodeDevDepIn parses a bulk-in transfer and returns its payload and whether
// the device marked it as the end of the message.
func (p *USBTMCProtocol) DecodeDevDepIn(resp []byte) ([]byte, bool, error) {
	if len(resp) < HeaderSize {
		return nil, false, fmt.Errorf("usbtmc: response too short (%d bytes)", len(resp))
	}
	if resp[0] != MsgDevDepIn {
		return nil, false, fmt.Errorf("usbtmc: unexpected message ID 0x%02X", resp[0])
	}
	if resp[1] != p.tag || resp[2] != ^p.tag {
		return nil, false, fmt.Errorf("usbtmc: bTag mismatch: got 0x%02X, want 0x%02X", resp[1], p.tag)
	}

	size := int(binary.LittleEndian.Uint32(resp[4:8]))
	if len(resp) < HeaderSize+size {
		return nil, false, fmt.Errorf("usbtmc: incomplete payload: have %d, want %d", len(resp)-HeaderSize, size)
	}
	eom := resp[8]&AttrEOM != 0
	return resp[HeaderSize : HeaderSize+size], eom, nil
}
