package h264

import (
	"fmt"

	"github.com/lanikai/rtspcam/internal/bitio"
)

// SeqParamSet is the subset of a Sequence Parameter Set (ITU-T H.264
// §7.3.2.1.1) needed to describe the stream over SDP and to recover Picture
// Order Count.
type SeqParamSet struct {
	Profile       byte
	Compatibility byte
	Level         byte

	FrameBits int // log2_max_frame_num_minus4 + 4

	PocType    int // pic_order_cnt_type: 0, 1, or 2
	PocLsbBits int // only meaningful when PocType == 0

	Width      int
	Height     int
	Interlaced bool
}

// highProfiles lists profile_idc values that carry the extended chroma/
// bit-depth/scaling-list fields. See ITU-T H.264 §7.3.2.1.1.
var highProfiles = map[byte]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true,
}

// maxDimension rejects absurd width/height values from a corrupt or
// adversarial SPS before they propagate into buffer sizing elsewhere.
const maxDimension = 2000

// DecodeSPS parses the RBSP of a NAL unit of type TypeSPS.
func DecodeSPS(nal NALUnit) (*SeqParamSet, error) {
	if nal.Type() != TypeSPS {
		return nil, fmt.Errorf("h264: not an SPS NAL (type %d)", nal.Type())
	}

	r := bitio.NewReader(nal.RBSP())
	sps := &SeqParamSet{}

	sps.Profile = byte(r.ReadBits(8))
	sps.Compatibility = byte(r.ReadBits(8))
	sps.Level = byte(r.ReadBits(8))
	r.ReadUE() // seq_parameter_set_id

	if highProfiles[sps.Profile] {
		chromaFormatIdc := r.ReadUE()
		if chromaFormatIdc == 3 {
			r.SkipBits(1) // separate_colour_plane_flag
		}
		r.ReadUE() // bit_depth_luma_minus8
		r.ReadUE() // bit_depth_chroma_minus8
		r.SkipBits(1) // qpprime_y_zero_transform_bypass_flag
		if r.ReadFlag() { // seq_scaling_matrix_present_flag
			n := 8
			if chromaFormatIdc == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				if r.ReadFlag() { // seq_scaling_list_present_flag[i]
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	log2MaxFrameNumMinus4 := r.ReadUE()
	sps.FrameBits = int(log2MaxFrameNumMinus4) + 4

	sps.PocType = int(r.ReadUE())
	switch sps.PocType {
	case 0:
		sps.PocLsbBits = int(r.ReadUE()) + 4
	case 1:
		r.SkipBits(1) // delta_pic_order_always_zero_flag
		r.ReadSE()    // offset_for_non_ref_pic
		r.ReadSE()    // offset_for_top_to_bottom_field
		n := r.ReadUE()
		for i := uint32(0); i < n; i++ {
			r.ReadSE() // offset_for_ref_frame[i]
		}
	default:
		if sps.PocType >= 3 {
			return nil, fmt.Errorf("h264: unsupported pic_order_cnt_type %d", sps.PocType)
		}
	}

	r.ReadUE()      // max_num_ref_frames
	r.SkipBits(1)   // gaps_in_frame_num_value_allowed_flag
	widthMbs := r.ReadUE() + 1
	heightMapUnits := r.ReadUE() + 1

	sps.Width = int(widthMbs) * 16
	sps.Height = int(heightMapUnits) * 16

	frameMbsOnly := r.ReadFlag()
	if !frameMbsOnly {
		sps.Interlaced = true
		sps.Height *= 2
		r.SkipBits(1) // mb_adaptive_frame_field_flag
	}
	r.SkipBits(1) // direct_8x8_inference_flag

	if sps.Width > maxDimension || sps.Height > maxDimension {
		return nil, fmt.Errorf("h264: dimensions %dx%d exceed %dx%d limit", sps.Width, sps.Height, maxDimension, maxDimension)
	}

	if r.NoMoreBits() {
		return nil, fmt.Errorf("h264: truncated SPS")
	}

	return sps, nil
}

// skipScalingList walks a scaling_list() of the given size, discarding its
// delta-coded entries (ITU-T H.264 §7.3.2.1.1.1). We only need to consume
// the correct number of bits; the matrix values themselves are unused.
func skipScalingList(r *bitio.Reader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale := r.ReadSE()
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}
