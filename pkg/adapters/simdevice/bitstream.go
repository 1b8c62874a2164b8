package simdevice

import (
	"github.com/user/hwencode/pkg/pipeline"
)

// H.264 NAL unit types written by the simulated encoder.
const (
	nalSliceNonIDR = 1
	nalSliceIDR    = 5
	nalSPS         = 7
	nalPPS         = 8
)

// H.264 profile_idc values.
const (
	profileIdcBaseline = 66
	profileIdcMain     = 77
	profileIdcHigh     = 100
)

var startCode = []byte{0, 0, 0, 1}

// bitWriter writes an RBSP most significant bit first.
type bitWriter struct {
	buf  []byte
	cur  byte
	nbit uint
}

func (w *bitWriter) bit(b uint32) {
	w.cur = w.cur<<1 | byte(b&1)
	w.nbit++
	if w.nbit == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur, w.nbit = 0, 0
	}
}

func (w *bitWriter) bits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v >> uint(i))
	}
}

// ue writes an unsigned Exp-Golomb code.
func (w *bitWriter) ue(v uint32) {
	v++
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	w.bits(0, n)
	w.bits(v, n+1)
}

// se writes a signed Exp-Golomb code.
func (w *bitWriter) se(v int32) {
	if v <= 0 {
		w.ue(uint32(-2 * v))
	} else {
		w.ue(uint32(2*v - 1))
	}
}

func (w *bitWriter) trailing() []byte {
	w.bit(1)
	for w.nbit != 0 {
		w.bit(0)
	}
	return w.buf
}

// nalu wraps an RBSP into an Annex B NAL unit with emulation prevention.
func nalu(refIdc, typ byte, rbsp []byte) []byte {
	out := make([]byte, 0, len(startCode)+1+len(rbsp)+len(rbsp)/64)
	out = append(out, startCode...)
	out = append(out, refIdc<<5|typ)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// writeSPS returns an SPS describing a coded frame, cropped to the visible size.
func writeSPS(profileIdc, levelIdc int, coded, visible pipeline.Size) []byte {
	mbW := (coded.Width + 15) / 16
	mbH := (coded.Height + 15) / 16

	w := &bitWriter{}
	w.bits(uint32(profileIdc), 8)
	w.bits(0, 8) // constraint flags + reserved
	w.bits(uint32(levelIdc), 8)
	w.ue(0) // seq_parameter_set_id
	if profileIdc == profileIdcHigh {
		w.ue(1) // chroma_format_idc 4:2:0
		w.ue(0) // bit_depth_luma_minus8
		w.ue(0) // bit_depth_chroma_minus8
		w.bit(0)
		w.bit(0) // seq_scaling_matrix_present_flag
	}
	w.ue(0) // log2_max_frame_num_minus4
	w.ue(2) // pic_order_cnt_type
	w.ue(1) // max_num_ref_frames
	w.bit(0)
	w.ue(uint32(mbW - 1))
	w.ue(uint32(mbH - 1))
	w.bit(1) // frame_mbs_only_flag
	w.bit(1) // direct_8x8_inference_flag

	cropRight := (mbW*16 - visible.Width) / 2
	cropBottom := (mbH*16 - visible.Height) / 2
	if cropRight > 0 || cropBottom > 0 {
		w.bit(1)
		w.ue(0)
		w.ue(uint32(cropRight))
		w.ue(0)
		w.ue(uint32(cropBottom))
	} else {
		w.bit(0)
	}
	w.bit(0) // vui_parameters_present_flag
	return nalu(3, nalSPS, w.trailing())
}

func writePPS() []byte {
	w := &bitWriter{}
	w.ue(0)  // pic_parameter_set_id
	w.ue(0)  // seq_parameter_set_id
	w.bit(0) // entropy_coding_mode_flag
	w.bit(0) // bottom_field_pic_order_in_frame_present_flag
	w.ue(0)  // num_slice_groups_minus1
	w.ue(0)
	w.ue(0)
	w.bit(0)
	w.bits(0, 2)
	w.se(0) // pic_init_qp_minus26
	w.se(0)
	w.se(0)
	w.bit(1) // deblocking_filter_control_present_flag
	w.bit(0)
	w.bit(0)
	return nalu(3, nalPPS, w.trailing())
}

// writeSlice returns a slice NAL whose payload is derived from seed.
// The payload is filler; only the NAL framing is meaningful.
func writeSlice(idr bool, frameNum int, seed uint32, payload int) []byte {
	w := &bitWriter{}
	w.ue(0) // first_mb_in_slice
	if idr {
		w.ue(7) // I slice
	} else {
		w.ue(5) // P slice
	}
	w.ue(0) // pic_parameter_set_id
	w.bits(uint32(frameNum&0xf), 4)
	if idr {
		w.ue(0) // idr_pic_id
	}
	rbsp := w.trailing()

	x := seed | 1
	for i := 0; i < payload; i++ {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		rbsp = append(rbsp, byte(x))
	}
	rbsp = append(rbsp, 0x80)

	if idr {
		return nalu(3, nalSliceIDR, rbsp)
	}
	return nalu(2, nalSliceNonIDR, rbsp)
}

// opaqueFrame is the payload written for non-H.264 formats.
func opaqueFrame(key bool, seed uint32, payload int) []byte {
	out := make([]byte, 0, payload+1)
	if key {
		out = append(out, 0x10)
	} else {
		out = append(out, 0x11)
	}
	x := seed | 1
	for i := 0; i < payload; i++ {
		x = x*1664525 + 1013904223
		out = append(out, byte(x>>24))
	}
	return out
}
