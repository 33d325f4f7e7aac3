package goble

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/radio"
)

// Notification opcodes on the events characteristic.
const (
	OpDown         byte = 1
	OpUp           byte = 2
	OpQueueDrained byte = 3
	OpFactoryReset byte = 4
)

// FlagQueued marks an edge recorded while no link was up.
const FlagQueued byte = 1 << 0

const transitionPacketSize = 6

// Packet is one decoded events notification:
//
//	[opcode u8][flags u8][elapsed_ms u32 LE]
//
// Marker opcodes may omit the trailing bytes.
type Packet struct {
	Op      byte
	Queued  bool
	Elapsed time.Duration
}

// ParsePacket decodes a notification payload.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) == 0 {
		return Packet{}, fmt.Errorf("empty notification")
	}
	p := Packet{Op: data[0]}
	switch p.Op {
	case OpDown, OpUp:
		if len(data) < transitionPacketSize {
			return Packet{}, fmt.Errorf("transition notification too short: %d bytes", len(data))
		}
		p.Queued = data[1]&FlagQueued != 0
		p.Elapsed = time.Duration(binary.LittleEndian.Uint32(data[2:6])) * time.Millisecond
	case OpQueueDrained, OpFactoryReset:
	default:
		return Packet{}, fmt.Errorf("unknown opcode 0x%02x", p.Op)
	}
	return p, nil
}

// EncodePacket is the inverse of ParsePacket.
func EncodePacket(p Packet) []byte {
	switch p.Op {
	case OpDown, OpUp:
		buf := make([]byte, transitionPacketSize)
		buf[0] = p.Op
		if p.Queued {
			buf[1] = FlagQueued
		}
		binary.LittleEndian.PutUint32(buf[2:], uint32(p.Elapsed/time.Millisecond))
		return buf
	default:
		return []byte{p.Op}
	}
}

// Event converts the packet to the radio event for button id.
func (p Packet) Event(id button.ID) radio.Event {
	switch p.Op {
	case OpDown:
		return radio.Event{Kind: radio.Transition, ButtonID: id, Transition: button.NewRawTransition(button.Down, p.Queued, p.Elapsed)}
	case OpUp:
		return radio.Event{Kind: radio.Transition, ButtonID: id, Transition: button.NewRawTransition(button.Up, p.Queued, p.Elapsed)}
	case OpQueueDrained:
		return radio.Event{Kind: radio.QueueDrained, ButtonID: id}
	default:
		return radio.Event{Kind: radio.FactoryReset, ButtonID: id}
	}
}
