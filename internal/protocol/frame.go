package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeongseonghan/ofdm-sim/internal/fec"
	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

// Frame types
const (
	TypeJob     byte = 0x01
	TypeResult  byte = 0x02
	TypeFailure byte = 0x03
)

// Frame size limits
const (
	HeaderSize     = 13
	MaxPayloadSize = 64 << 20
	CRCSize        = fec.ChecksumSize
)

// ErrCRCMismatch is returned when a frame fails its integrity check.
var ErrCRCMismatch = errors.New("frame crc mismatch")

// Frame is the envelope that carries jobs into the worker and outcomes back.
// Format: [Type(1B)][RequestID(8B)][PayloadLen(4B)][Payload][CRC-32(4B)]
type Frame struct {
	Type      byte
	RequestID uint64
	Payload   []byte
}

// TypeName returns a human-readable name for the frame type.
func (f *Frame) TypeName() string {
	switch f.Type {
	case TypeJob:
		return "JOB"
	case TypeResult:
		return "RESULT"
	case TypeFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", f.Type)
	}
}

// NewJobFrame wraps a job for request id.
func NewJobFrame(id uint64, job sim.TransmissionJob) (*Frame, error) {
	return newJSONFrame(TypeJob, id, job)
}

// NewResultFrame wraps a successful result.
func NewResultFrame(id uint64, res *sim.TransmissionResult) (*Frame, error) {
	return newJSONFrame(TypeResult, id, res)
}

// NewFailureFrame wraps a failure.
func NewFailureFrame(id uint64, f *sim.Failure) (*Frame, error) {
	return newJSONFrame(TypeFailure, id, f)
}

func newJSONFrame(typ byte, id uint64, v any) (*Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	return &Frame{Type: typ, RequestID: id, Payload: payload}, nil
}

// Job decodes the payload of a JOB frame.
func (f *Frame) Job() (sim.TransmissionJob, error) {
	var job sim.TransmissionJob
	if f.Type != TypeJob {
		return job, fmt.Errorf("expected JOB, got %s", f.TypeName())
	}
	if err := json.Unmarshal(f.Payload, &job); err != nil {
		return job, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

// Outcome decodes a RESULT or FAILURE frame. Exactly one return value is
// non-nil on success.
func (f *Frame) Outcome() (*sim.TransmissionResult, *sim.Failure, error) {
	switch f.Type {
	case TypeResult:
		var res sim.TransmissionResult
		if err := json.Unmarshal(f.Payload, &res); err != nil {
			return nil, nil, fmt.Errorf("unmarshal result: %w", err)
		}
		return &res, nil, nil
	case TypeFailure:
		var fail sim.Failure
		if err := json.Unmarshal(f.Payload, &fail); err != nil {
			return nil, nil, fmt.Errorf("unmarshal failure: %w", err)
		}
		return nil, &fail, nil
	default:
		return nil, nil, fmt.Errorf("expected RESULT or FAILURE, got %s", f.TypeName())
	}
}

// Encode serializes the frame with a trailing CRC-32.
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Type
	binary.BigEndian.PutUint64(buf[1:9], f.RequestID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return fec.Seal(buf)
}

// DecodeFrame deserializes bytes into a Frame, verifying CRC-32.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize+CRCSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	body, err := fec.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCRCMismatch, err)
	}

	f := &Frame{
		Type:      body[0],
		RequestID: binary.BigEndian.Uint64(body[1:9]),
	}
	payloadLen := int(binary.BigEndian.Uint32(body[9:13]))
	if len(body) != HeaderSize+payloadLen {
		return nil, fmt.Errorf("frame length mismatch: have %d, need %d", len(body), HeaderSize+payloadLen)
	}

	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, body[HeaderSize:])
	}
	return f, nil
}
