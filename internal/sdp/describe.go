package sdp

import (
	"fmt"
	"math/rand"
)

// DescribeParams carries everything the DESCRIBE body needs: the current
// decoded SPS/PPS (for fmtp sprop-parameter-sets and profile-level-id), the
// stream's pixel dimensions, the server's current bitrate estimate, and the
// audio sample rate.
type DescribeParams struct {
	DeviceName string
	ServerIP   string

	Width, Height int
	Profile       byte
	Compatibility byte
	Level         byte
	SPS, PPS      []byte

	BitsPerSecond uint32
	PacketRate    uint32

	AudioSampleRate uint32
}

// BuildDescribeSession constructs the SDP document returned by DESCRIBE,
// matching the layout in the external interfaces section: a single video
// track (payload type 96, H.264/90000) and a single audio track (payload
// type 97, MPEG4-GENERIC/<sampleRate>).
func BuildDescribeSession(p DescribeParams) Session {
	fmtp := H264FormatParameters{
		PacketizationMode:  1,
		ProfileLevelID:     int(p.Profile)<<16 | int(p.Compatibility)<<8 | int(p.Level),
		SpropParameterSets: [][]byte{p.SPS, p.PPS},
	}

	video := Media{
		Type:      "video",
		Port:      0,
		Proto:     "RTP/AVP",
		Format:    []string{"96"},
		Bandwidth: fmt.Sprintf("TIAS:%d", p.BitsPerSecond),
		Attributes: []Attribute{
			{Key: "maxprate", Value: fmt.Sprintf("%d.0000", p.PacketRate)},
			{Key: "control", Value: "streamid=1"},
			{Key: "rtpmap", Value: "96 H264/90000"},
			{Key: "mimetype", Value: `string;"video/H264"`},
			{Key: "framesize", Value: fmt.Sprintf("96 %d-%d", p.Width, p.Height)},
			{Key: "Width", Value: fmt.Sprintf("integer;%d", p.Width)},
			{Key: "Height", Value: fmt.Sprintf("integer;%d", p.Height)},
			{Key: "fmtp", Value: "96 " + fmtp.Marshal()},
		},
	}

	audio := Media{
		Type:   "audio",
		Port:   0,
		Proto:  "RTP/AVP",
		Format: []string{"97"},
		Attributes: []Attribute{
			{Key: "control", Value: "streamid=2"},
			{Key: "rtpmap", Value: fmt.Sprintf("97 MPEG4-GENERIC/%d/2", p.AudioSampleRate)},
			{Key: "fmtp", Value: "97 streamtype=5; profile-level-id=1; mode=AAC-hbr; config=1210; SizeLength=13; IndexLength=3; IndexDeltaLength=3;"},
		},
	}

	return Session{
		Version: 0,
		Origin: Origin{
			Username:       "-",
			SessionId:      fmt.Sprintf("%d", rand.Uint64()),
			SessionVersion: rand.Uint64(),
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        p.ServerIP,
		},
		Name: "Live stream from " + p.DeviceName,
		Connection: &Connection{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     "0.0.0.0",
		},
		Time:       []Time{{}},
		Attributes: []Attribute{{Key: "control", Value: "*"}},
		Media:      []Media{video, audio},
	}
}
