// Package bitstream inspects H.264 Annex B byte streams produced by the encoder.
package bitstream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

var (
	// ErrNoCodecConfig is returned when a stream carries no SPS or no PPS.
	ErrNoCodecConfig = errors.New("bitstream: SPS/PPS not found")

	// ErrInvalidSPS is returned when an SPS cannot be parsed.
	ErrInvalidSPS = errors.New("bitstream: invalid SPS")
)

var startCode = []byte{0, 0, 0, 1}

// ParameterSets returns the SPS and PPS NAL units found in an Annex B stream,
// without start codes.
func ParameterSets(data []byte) (spss, ppss [][]byte) {
	for _, nalu := range avc.ExtractNalusFromByteStream(data) {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			spss = append(spss, nalu)
		case avc.NALU_PPS:
			ppss = append(ppss, nalu)
		}
	}
	return spss, ppss
}

// ExtractCodecConfig returns the parameter sets of an Annex B stream, each
// prefixed with a four byte start code. The result is a copy.
func ExtractCodecConfig(data []byte) ([]byte, error) {
	spss, ppss := ParameterSets(data)
	if len(spss) == 0 || len(ppss) == 0 {
		return nil, ErrNoCodecConfig
	}

	var out []byte
	for _, nalu := range append(spss, ppss...) {
		out = append(out, startCode...)
		out = append(out, nalu...)
	}
	return out, nil
}

// IsKeyFrame reports whether the stream contains an IDR slice.
func IsKeyFrame(data []byte) bool {
	for _, nalu := range avc.ExtractNalusFromByteStream(data) {
		if len(nalu) > 0 && avc.GetNaluType(nalu[0]) == avc.NALU_IDR {
			return true
		}
	}
	return false
}

// IsCodecConfigOnly reports whether data holds parameter sets and nothing else.
func IsCodecConfigOnly(data []byte) bool {
	nalus := avc.ExtractNalusFromByteStream(data)
	if len(nalus) == 0 {
		return false
	}
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			return false
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS, avc.NALU_PPS:
		default:
			return false
		}
	}
	return true
}

// ToAVCC converts an Annex B access unit into length-prefixed NAL units.
// Parameter sets are dropped since an MP4 track carries them in its avcC box.
func ToAVCC(data []byte) []byte {
	nalus := avc.ExtractNalusFromByteStream(data)
	if len(nalus) == 0 {
		return nil
	}

	total := 0
	for _, nalu := range nalus {
		total += 4 + len(nalu)
	}
	out := make([]byte, 0, total)
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if t := avc.GetNaluType(nalu[0]); t == avc.NALU_SPS || t == avc.NALU_PPS {
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}

// Info summarizes an SPS.
type Info struct {
	ProfileIdc uint32
	LevelIdc   uint32
	Width      uint32
	Height     uint32
}

func (i Info) String() string {
	return fmt.Sprintf("profile_idc=%d level_idc=%d %dx%d", i.ProfileIdc, i.LevelIdc, i.Width, i.Height)
}

// Describe parses the first SPS of a codec config blob.
func Describe(config []byte) (Info, error) {
	spss, _ := ParameterSets(config)
	if len(spss) == 0 {
		return Info{}, ErrNoCodecConfig
	}
	sps, err := avc.ParseSPSNALUnit(spss[0], false)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidSPS, err)
	}
	return Info{
		ProfileIdc: sps.Profile,
		LevelIdc:   sps.Level,
		Width:      uint32(sps.Width),
		Height:     uint32(sps.Height),
	}, nil
}
