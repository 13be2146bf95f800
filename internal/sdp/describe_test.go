package sdp

import (
	"strings"
	"testing"
)

func TestBuildDescribeSessionLayout(t *testing.T) {
	p := DescribeParams{
		DeviceName:      "cam0",
		ServerIP:        "192.0.2.1",
		Width:           1280,
		Height:          720,
		Profile:         0x64,
		Compatibility:   0x00,
		Level:           0x1f,
		SPS:             []byte{0x67, 0x64, 0x00, 0x1f},
		PPS:             []byte{0x68, 0xCE},
		BitsPerSecond:   500000,
		PacketRate:      3000,
		AudioSampleRate: 48000,
	}
	text := BuildDescribeSession(p).String()

	for _, want := range []string{
		"v=0\r\n",
		"s=Live stream from cam0\r\n",
		"c=IN IP4 0.0.0.0\r\n",
		"t=0 0\r\n",
		"a=control:*\r\n",
		"m=video 0 RTP/AVP 96\r\n",
		"b=TIAS:500000\r\n",
		"a=maxprate:3000.0000\r\n",
		"a=control:streamid=1\r\n",
		"a=rtpmap:96 H264/90000\r\n",
		`a=mimetype:string;"video/H264"` + "\r\n",
		"a=framesize:96 1280-720\r\n",
		"a=Width:integer;1280\r\n",
		"a=Height:integer;720\r\n",
		"a=fmtp:96 profile-level-id=64001f;packetization-mode=1;sprop-parameter-sets=",
		"m=audio 0 RTP/AVP 97\r\n",
		"a=control:streamid=2\r\n",
		"a=rtpmap:97 MPEG4-GENERIC/48000/2\r\n",
		"a=fmtp:97 streamtype=5; profile-level-id=1; mode=AAC-hbr; config=1210; SizeLength=13; IndexLength=3; IndexDeltaLength=3;\r\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}

	if strings.Index(text, "m=video") > strings.Index(text, "m=audio") {
		t.Errorf("expected video media section before audio")
	}
	if strings.Index(text, "m=video") > strings.Index(text, "b=TIAS") {
		t.Errorf("expected b=TIAS to follow m=video")
	}
}
