package speech

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame *frame
	}{
		{
			name:  "client request",
			frame: &frame{Type: msgFullClientRequest, Flags: flagNoSequence, Serialization: serialJSON, Compression: compressGzip, Payload: []byte(`{"a":1}`)},
		},
		{
			name:  "audio with sequence",
			frame: &frame{Type: msgAudioOnlyResponse, Flags: flagNegativeSequence, Serialization: serialRaw, Sequence: -3, Payload: []byte{0xFF, 0xFB}},
		},
		{
			name:  "session event",
			frame: &frame{Type: msgFullServerResponse, Flags: flagWithEvent, Serialization: serialJSON, Event: eventSessionFinished, SessionID: "sess-1", Payload: []byte(`{}`)},
		},
		{
			name:  "connection event",
			frame: &frame{Type: msgFullServerResponse, Flags: flagWithEvent, Serialization: serialJSON, Event: eventConnectionStarted, ConnectID: "conn-9"},
		},
		{
			name:  "error",
			frame: &frame{Type: msgError, Flags: flagNoSequence, Serialization: serialJSON, ErrorCode: 45000001, Payload: []byte(`{"error":"bad"}`)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeFrame(encodeFrame(tc.frame))
			if err != nil {
				t.Fatalf("decodeFrame: %v", err)
			}
			if got.Type != tc.frame.Type || got.Flags != tc.frame.Flags {
				t.Errorf("header = %v/%v, want %v/%v", got.Type, got.Flags, tc.frame.Type, tc.frame.Flags)
			}
			if got.Sequence != tc.frame.Sequence {
				t.Errorf("sequence = %d, want %d", got.Sequence, tc.frame.Sequence)
			}
			if got.Event != tc.frame.Event || got.SessionID != tc.frame.SessionID || got.ConnectID != tc.frame.ConnectID {
				t.Errorf("event block = %d/%q/%q", got.Event, got.SessionID, got.ConnectID)
			}
			if got.ErrorCode != tc.frame.ErrorCode {
				t.Errorf("error code = %d, want %d", got.ErrorCode, tc.frame.ErrorCode)
			}
			if !bytes.Equal(got.Payload, tc.frame.Payload) {
				t.Errorf("payload = %q, want %q", got.Payload, tc.frame.Payload)
			}
		})
	}
}

func TestFrameLast(t *testing.T) {
	if (&frame{Flags: flagPositiveSequence}).last() {
		t.Error("positive sequence is not last")
	}
	if !(&frame{Flags: flagNegativeSequence}).last() {
		t.Error("negative sequence is last")
	}
	if !(&frame{Flags: flagLastNoSequence}).last() {
		t.Error("last-no-sequence is last")
	}
}

func TestDecodeFrameRejectsTruncated(t *testing.T) {
	data := encodeFrame(&frame{Type: msgAudioOnlyResponse, Flags: flagPositiveSequence, Sequence: 1, Payload: []byte("audio bytes")})

	for _, n := range []int{0, 3, 6, len(data) - 1} {
		if _, err := decodeFrame(data[:n]); err == nil {
			t.Errorf("decodeFrame(%d bytes) succeeded, want error", n)
		}
	}

	bad := append([]byte{}, data...)
	bad[0] = 0x21
	if _, err := decodeFrame(bad); err == nil {
		t.Error("decodeFrame accepted version 2")
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	body := []byte(`{"req_params":{"text":"你好"}}`)
	packed, err := compress(body, compressGzip)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if bytes.Equal(packed, body) {
		t.Fatal("gzip output equals input")
	}
	unpacked, err := decompress(packed, compressGzip)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(unpacked, body) {
		t.Errorf("round trip = %q", unpacked)
	}

	if _, err := decompress([]byte("not gzip"), compressGzip); err == nil {
		t.Error("decompress accepted garbage")
	}
	if _, err := compress(body, compression(7)); err == nil {
		t.Error("compress accepted unknown method")
	}
}
