package network

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodePacket(t *testing.T) {
	raw, err := EncodePacket(MsgTypePhase, []byte(`{"round":1}`))
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	if len(raw) != 4+11 {
		t.Fatalf("Expected packet length 15, got %d", len(raw))
	}

	packet, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if packet.MsgID != MsgTypePhase {
		t.Errorf("Expected msg id %d, got %d", MsgTypePhase, packet.MsgID)
	}
	if !bytes.Equal(packet.Data, []byte(`{"round":1}`)) {
		t.Errorf("Unexpected payload %q", packet.Data)
	}
}

func TestDecodePacket_Truncated(t *testing.T) {
	if _, err := DecodePacket([]byte{0, 1}); err != io.ErrShortBuffer {
		t.Errorf("Expected ErrShortBuffer for short header, got %v", err)
	}

	raw, _ := EncodePacket(MsgTypeRename, []byte("hello"))
	if _, err := DecodePacket(raw[:6]); err != io.ErrShortBuffer {
		t.Errorf("Expected ErrShortBuffer for truncated body, got %v", err)
	}
}

func TestEncodePacket_TooLarge(t *testing.T) {
	if _, err := EncodePacket(MsgTypeRoster, make([]byte, 70000)); err != ErrPacketTooLarge {
		t.Errorf("Expected ErrPacketTooLarge, got %v", err)
	}
}
