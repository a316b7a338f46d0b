package visa

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestProtocolEncodeDevDepOut(t *testing.T) {
	proto := NewUSBTMCProtocol()

	got := proto.EncodeDevDepOut([]byte("*RST\n"))
	want := []byte{
		MsgDevDepOut, 0x01, 0xFE, 0x00,
		0x05, 0x00, 0x00, 0x00,
		AttrEOM, 0x00, 0x00, 0x00,
		'*', 'R', 'S', 'T', '\n', 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeDevDepOut() = % X, want % X", got, want)
	}

	// Aligned payloads get no padding and the tag advances.
	got = proto.EncodeDevDepOut([]byte("ABCD"))
	if len(got) != HeaderSize+4 {
		t.Fatalf("len = %d, want %d", len(got), HeaderSize+4)
	}
	if got[1] != 0x02 || got[2] != 0xFD {
		t.Fatalf("bTag = %02X/%02X, want 02/FD", got[1], got[2])
	}
}

func TestProtocolTagWraps(t *testing.T) {
	proto := NewUSBTMCProtocol()
	proto.tag = 0xFF

	pkt := proto.EncodeRequestDevDepIn(64)
	if pkt[1] != 0x01 {
		t.Fatalf("bTag after 0xFF = %02X, want 01", pkt[1])
	}
	if pkt[0] != MsgRequestDevIn {
		t.Fatalf("MsgID = %02X, want %02X", pkt[0], MsgRequestDevIn)
	}
	if size := binary.LittleEndian.Uint32(pkt[4:8]); size != 64 {
		t.Fatalf("transfer size = %d, want 64", size)
	}
}

func devDepIn(tag byte, payload string, eom bool) []byte {
	h := make([]byte, HeaderSize)
	h[0] = MsgDevDepIn
	h[1] = tag
	h[2] = ^tag
	binary.LittleEndian.PutUint32(h[4:8], uint32(len(payload)))
	if eom {
		h[8] = AttrEOM
	}
	return append(h, payload...)
}

func TestProtocolDecodeDevDepIn(t *testing.T) {
	tests := []struct {
		name    string
		resp    []byte
		want    string
		wantEOM bool
		wantErr bool
	}{
		{name: "complete", resp: devDepIn(1, "1\n", true), want: "1\n", wantEOM: true},
		{name: "partial", resp: devDepIn(1, "Thor", false), want: "Thor"},
		{name: "padded", resp: append(devDepIn(1, "0\n", true), 0, 0), want: "0\n", wantEOM: true},
		{name: "too short", resp: []byte{MsgDevDepIn, 1, 0xFE}, wantErr: true},
		{name: "wrong tag", resp: devDepIn(7, "1\n", true), wantErr: true},
		{name: "wrong msg", resp: append([]byte{0x7F}, devDepIn(1, "", true)[1:]...), wantErr: true},
		{name: "truncated", resp: devDepIn(1, "1234", true)[:HeaderSize+2], wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proto := NewUSBTMCProtocol()
			proto.EncodeRequestDevDepIn(MaxReadSize) // tag 1

			got, eom, err := proto.DecodeDevDepIn(tt.resp)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeDevDepIn() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDevDepIn() returned error: %v", err)
			}
			if string(got) != tt.want || eom != tt.wantEOM {
				t.Fatalf("DecodeDevDepIn() = %q, %v; want %q, %v", got, eom, tt.want, tt.wantEOM)
			}
		})
	}
}
