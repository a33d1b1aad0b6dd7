package remote

import (
	"github.com/golang/protobuf/ptypes/any"
	"github.com/mpilab/distapsp/comm"
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The envelope kinds exchanged over a relay stream. Each kind is used as the
// TypeUrl of the any.Any message that carries the envelope.
const (
	kindWelcome = "distapsp/welcome"
	kindSend    = "distapsp/send"
	kindBcast   = "distapsp/bcast"
	kindBarrier = "distapsp/barrier"
	kindAbort   = "distapsp/abort"
	kindDone    = "distapsp/done"
)

var knownKinds = map[string]bool{
	kindWelcome: true,
	kindSend:    true,
	kindBcast:   true,
	kindBarrier: true,
	kindAbort:   true,
	kindDone:    true,
}

// Protobuf field numbers of the envelope message. The equivalent schema is:
//
//	message Envelope {
//	  int64  src    = 1;
//	  int64  dst    = 2;
//	  int64  size   = 3;
//	  int32  tag    = 4;
//	  int64  seq    = 5;
//	  repeated int64 data = 6 [packed = true];
//	  string job_id = 7;
//	  string reason = 8;
//	}
const (
	fieldSrc    protowire.Number = 1
	fieldDst    protowire.Number = 2
	fieldSize   protowire.Number = 3
	fieldTag    protowire.Number = 4
	fieldSeq    protowire.Number = 5
	fieldData   protowire.Number = 6
	fieldJobID  protowire.Number = 7
	fieldReason protowire.Number = 8
)

// envelope is the unit of communication between a rank and the hub.
//
// For kindSend, Src/Dst/Tag/Seq/Data describe a point-to-point message. For
// kindBcast, Src is the root and Seq the round. For kindWelcome, Dst is the
// assigned rank, Size the group size and Data carries the job parameters.
type envelope struct {
	Kind   string
	JobID  string
	Src    int
	Dst    int
	Size   int
	Tag    comm.Tag
	Seq    int64
	Data   []int64
	Reason string
}

// marshalEnvelope encodes an envelope into an any.Any message. Fields set to
// their zero value are omitted from the wire, as proto3 does.
func marshalEnvelope(env *envelope) (*any.Any, error) {
	if !knownKinds[env.Kind] {
		return nil, xerrors.Errorf("marshal: unknown envelope kind %q", env.Kind)
	}

	var buf []byte
	buf = appendInt64(buf, fieldSrc, int64(env.Src))
	buf = appendInt64(buf, fieldDst, int64(env.Dst))
	buf = appendInt64(buf, fieldSize, int64(env.Size))
	buf = appendInt64(buf, fieldTag, int64(env.Tag))
	buf = appendInt64(buf, fieldSeq, env.Seq)
	if len(env.Data) != 0 {
		var packed []byte
		for _, v := range env.Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		buf = protowire.AppendTag(buf, fieldData, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}
	buf = appendString(buf, fieldJobID, env.JobID)
	buf = appendString(buf, fieldReason, env.Reason)

	return &any.Any{TypeUrl: env.Kind, Value: buf}, nil
}

func appendInt64(buf []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, uint64(v))
}

func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

// unmarshalEnvelope decodes an envelope from an any.Any message. Unknown
// fields are skipped and data values are accepted in both packed and
// unpacked form.
func unmarshalEnvelope(msg *any.Any) (*envelope, error) {
	if msg == nil {
		return nil, xerrors.Errorf("unmarshal: nil message")
	} else if !knownKinds[msg.TypeUrl] {
		return nil, xerrors.Errorf("unmarshal: unknown envelope kind %q", msg.TypeUrl)
	}

	env := &envelope{Kind: msg.TypeUrl}
	for b := msg.Value; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, xerrors.Errorf("unmarshal %s: %w", msg.TypeUrl, protowire.ParseError(n))
		}
		b = b[n:]

		if n = env.consumeField(num, typ, b); n < 0 {
			return nil, xerrors.Errorf("unmarshal %s: field %d: %w", msg.TypeUrl, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return env, nil
}

// consumeField decodes the value of a single field from b and returns the
// number of bytes consumed or a negative protowire error code.
func (env *envelope) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch {
	case num == fieldData && typ == protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, vn := protowire.ConsumeVarint(packed)
			if vn < 0 {
				return vn
			}
			env.Data = append(env.Data, int64(v))
			packed = packed[vn:]
		}
		return n
	case (num == fieldJobID || num == fieldReason) && typ == protowire.BytesType:
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return n
		}
		if num == fieldJobID {
			env.JobID = s
		} else {
			env.Reason = s
		}
		return n
	case num >= fieldSrc && num <= fieldData && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n
		}
		switch num {
		case fieldSrc:
			env.Src = int(int64(v))
		case fieldDst:
			env.Dst = int(int64(v))
		case fieldSize:
			env.Size = int(int64(v))
		case fieldTag:
			env.Tag = comm.Tag(int32(v))
		case fieldSeq:
			env.Seq = int64(v)
		case fieldData:
			env.Data = append(env.Data, int64(v))
		}
		return n
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}
