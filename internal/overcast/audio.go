package overcast

import "fmt"

// mpeg1 layer III bitrates, kbit/s, indexed by the frame header
// bitrate field.
var mp3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// DurationFromAudio estimates an episode's duration in seconds from raw
// audio bytes. It reads the first MP3 frame header for the nominal
// bitrate and divides the payload size by it; good enough for CBR
// podcast audio, and a deliberate estimate for VBR.
func DurationFromAudio(data []byte) (int, error) {
	offset := 0

	// Skip an ID3v2 tag when present; its size is a syncsafe integer
	// of four 7-bit bytes.
	if len(data) >= 10 && string(data[:3]) == "ID3" {
		size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
		offset = 10 + size
	}

	// Find the first frame sync.
	for ; offset+4 <= len(data); offset++ {
		if data[offset] == 0xff && data[offset+1]&0xe0 == 0xe0 {
			break
		}
	}
	if offset+4 > len(data) {
		return 0, &ParseError{What: "audio: no mp3 frame sync found"}
	}

	header := data[offset : offset+4]
	version := header[1] >> 3 & 0x03 // 3 = MPEG1
	layer := header[1] >> 1 & 0x03   // 1 = layer III
	if version != 3 || layer != 1 {
		return 0, &ParseError{What: fmt.Sprintf("audio: unsupported mpeg version/layer %d/%d", version, layer)}
	}

	bitrateKbps := mp3Bitrates[header[2]>>4]
	if bitrateKbps == 0 {
		return 0, &ParseError{What: "audio: free or invalid bitrate"}
	}

	payload := len(data) - offset
	seconds := payload * 8 / (bitrateKbps * 1000)
	if seconds <= 0 {
		return 0, &ParseError{What: "audio: implausible zero duration"}
	}
	return seconds, nil
}
