package remote

import (
	"io"
	"math"

	"github.com/golang/protobuf/ptypes/any"
	"github.com/mpilab/distapsp/comm"
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/protowire"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(EnvelopeTestSuite))

type EnvelopeTestSuite struct{}

func (s *EnvelopeTestSuite) TestEncodeDecode(c *gc.C) {
	specs := []*envelope{
		{Kind: kindWelcome, JobID: "job-42", Dst: 3, Size: 4, Data: []int64{10, -7, 1, 1600000000000000000}},
		{Kind: kindSend, Src: 0, Dst: 2, Tag: comm.TagRow, Seq: 5, Data: []int64{0, 1, math.MaxInt64, math.MinInt64}},
		{Kind: kindBcast, Src: 1, Seq: 9, Data: []int64{}},
		{Kind: kindAbort, Reason: "out of memory"},
		{Kind: kindDone},
	}

	for specIndex, spec := range specs {
		c.Logf("spec %d: %s", specIndex, spec.Kind)
		msg, err := marshalEnvelope(spec)
		c.Assert(err, gc.IsNil)
		c.Assert(msg.TypeUrl, gc.Equals, spec.Kind)

		got, err := unmarshalEnvelope(msg)
		c.Assert(err, gc.IsNil)
		c.Assert(got.Kind, gc.Equals, spec.Kind)
		c.Assert(got.JobID, gc.Equals, spec.JobID)
		c.Assert(got.Src, gc.Equals, spec.Src)
		c.Assert(got.Dst, gc.Equals, spec.Dst)
		c.Assert(got.Size, gc.Equals, spec.Size)
		c.Assert(got.Tag, gc.Equals, spec.Tag)
		c.Assert(got.Seq, gc.Equals, spec.Seq)
		c.Assert(got.Reason, gc.Equals, spec.Reason)
		c.Assert(got.Data, gc.HasLen, len(spec.Data))
		for i, v := range spec.Data {
			c.Assert(got.Data[i], gc.Equals, v)
		}
	}
}

func (s *EnvelopeTestSuite) TestUnknownKind(c *gc.C) {
	_, err := marshalEnvelope(&envelope{Kind: "bogus"})
	c.Assert(err, gc.ErrorMatches, `marshal: unknown envelope kind "bogus"`)

	_, err = unmarshalEnvelope(&any.Any{TypeUrl: "bogus"})
	c.Assert(err, gc.ErrorMatches, `unmarshal: unknown envelope kind "bogus"`)

	_, err = unmarshalEnvelope(nil)
	c.Assert(err, gc.ErrorMatches, `unmarshal: nil message`)
}

func (s *EnvelopeTestSuite) TestWireFormat(c *gc.C) {
	msg, err := marshalEnvelope(&envelope{
		Kind:   kindSend,
		JobID:  "job",
		Src:    1,
		Dst:    2,
		Tag:    comm.TagRow,
		Seq:    -3,
		Data:   []int64{7, -1},
		Reason: "r",
	})
	c.Assert(err, gc.IsNil)

	var (
		nums []protowire.Number
		data []int64
		seq  int64
	)
	for b := msg.Value; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		c.Assert(n > 0, gc.Equals, true, gc.Commentf("invalid tag: %v", protowire.ParseError(n)))
		b = b[n:]
		nums = append(nums, num)

		switch num {
		case fieldData:
			c.Assert(typ, gc.Equals, protowire.BytesType)
			packed, pn := protowire.ConsumeBytes(b)
			c.Assert(pn > 0, gc.Equals, true)
			for len(packed) > 0 {
				v, vn := protowire.ConsumeVarint(packed)
				c.Assert(vn > 0, gc.Equals, true)
				data = append(data, int64(v))
				packed = packed[vn:]
			}
			n = pn
		case fieldSeq:
			c.Assert(typ, gc.Equals, protowire.VarintType)
			v, vn := protowire.ConsumeVarint(b)
			seq, n = int64(v), vn
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		c.Assert(n > 0, gc.Equals, true)
		b = b[n:]
	}

	// Zero-valued fields (size) are omitted.
	c.Assert(nums, gc.DeepEquals, []protowire.Number{fieldSrc, fieldDst, fieldTag, fieldSeq, fieldData, fieldJobID, fieldReason})
	c.Assert(data, gc.DeepEquals, []int64{7, -1})
	c.Assert(seq, gc.Equals, int64(-3))
}

func (s *EnvelopeTestSuite) TestUnpackedDataAndUnknownFields(c *gc.C) {
	var b []byte
	b = protowire.AppendTag(b, fieldDst, protowire.VarintType)
	b = protowire.AppendVarint(b, 4)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")
	for _, v := range []int64{5, -6} {
		b = protowire.AppendTag(b, fieldData, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	b = protowire.AppendTag(b, 100, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 42)

	env, err := unmarshalEnvelope(&any.Any{TypeUrl: kindBcast, Value: b})
	c.Assert(err, gc.IsNil)
	c.Assert(env.Dst, gc.Equals, 4)
	c.Assert(env.Data, gc.DeepEquals, []int64{5, -6})
}

func (s *EnvelopeTestSuite) TestTruncatedEnvelope(c *gc.C) {
	msg, err := marshalEnvelope(&envelope{
		Kind:  kindSend,
		JobID: "job",
		Dst:   1,
		Data:  []int64{1, 2, 300},
	})
	c.Assert(err, gc.IsNil)

	// Cutting the message at a field boundary yields a shorter but valid
	// message; cutting it anywhere else must fail.
	boundaries := map[int]bool{0: true}
	for off := 0; off < len(msg.Value); {
		num, typ, n := protowire.ConsumeTag(msg.Value[off:])
		c.Assert(n > 0, gc.Equals, true)
		vn := protowire.ConsumeFieldValue(num, typ, msg.Value[off+n:])
		c.Assert(vn > 0, gc.Equals, true)
		off += n + vn
		boundaries[off] = true
	}

	for cut := 0; cut < len(msg.Value); cut++ {
		_, err = unmarshalEnvelope(&any.Any{TypeUrl: msg.TypeUrl, Value: msg.Value[:cut]})
		if boundaries[cut] {
			c.Assert(err, gc.IsNil, gc.Commentf("cut at field boundary %d", cut))
			continue
		}
		c.Assert(err, gc.NotNil, gc.Commentf("decoding succeeded for a message truncated at byte %d", cut))
		c.Assert(xerrors.Is(err, io.ErrUnexpectedEOF), gc.Equals, true, gc.Commentf("cut at %d: %v", cut, err))
	}
}
