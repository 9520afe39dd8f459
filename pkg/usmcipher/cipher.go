// Package usmcipher implements the CRI XOR obfuscation used to scramble
// USM video and audio payload bytes. It derives a video key and an audio
// key from a 64-bit seed and applies symmetric, packet-local XOR
// transforms to elementary-stream packets.
package usmcipher

import "github.com/cri-works/gousm/pkg/usmerrors"

// VideoKeySize is the length in bytes of a derived video key.
const VideoKeySize = 0x40

// AudioKeySize is the length in bytes of a derived audio key.
const AudioKeySize = 0x20

const (
	videoEncryptedStart = 0x40
	videoStartCodeStart = 0x140
	videoStartCodeLen   = 0x100
	videoMinPacketLen   = 0x240
	audioEncryptedStart = 0x140
)

// DeriveKeys derives the video key (0x40 bytes) and audio key (0x20
// bytes) from a 64-bit obfuscation seed. The byte-level recipe is fixed
// by the wire format and pinned by the test vector in cipher_test.go.
func DeriveKeys(seed uint64) (videoKey, audioKey []byte) {
	var seedBytes [8]byte
	for i := range seedBytes {
		seedBytes[i] = byte(seed >> (8 * i))
	}

	var k [0x20]byte
	k[0x00] = seedBytes[0]
	k[0x01] = seedBytes[1]
	k[0x02] = seedBytes[2]
	k[0x03] = seedBytes[3] - 0x34
	k[0x04] = seedBytes[4] + 0x07
	k[0x05] = seedBytes[5] ^ 0x13
	k[0x06] = seedBytes[6] + 0x61
	k[0x07] = k[0x00] ^ 0xFF
	k[0x08] = k[0x01] + k[0x02]
	k[0x09] = k[0x01] - k[0x07]
	k[0x0A] = k[0x02] ^ 0xFF
	k[0x0B] = k[0x01] ^ 0xFF
	k[0x0C] = k[0x0B] + k[0x09]
	k[0x0D] = k[0x08] - k[0x03]
	k[0x0E] = k[0x0D] ^ 0xFF
	k[0x0F] = k[0x0A] - k[0x0B]
	k[0x10] = k[0x08] - k[0x0F]
	k[0x11] = k[0x10] ^ k[0x07]
	k[0x12] = k[0x0F] ^ 0xFF
	k[0x13] = k[0x03] ^ 0x10
	k[0x14] = k[0x04] - 0x32
	k[0x15] = k[0x05] + 0xED
	k[0x16] = k[0x06] ^ 0xF3
	k[0x17] = k[0x13] - k[0x0F]
	k[0x18] = k[0x15] + k[0x07]
	k[0x19] = 0x21 - k[0x13]
	k[0x1A] = k[0x14] ^ k[0x17]
	k[0x1B] = k[0x16] + k[0x16]
	k[0x1C] = k[0x17] + 0x44
	k[0x1D] = k[0x03] + k[0x04]
	k[0x1E] = k[0x05] - k[0x16]
	k[0x1F] = k[0x1D] ^ k[0x13]

	const audioT = "URUC"

	vk := make([]byte, VideoKeySize)
	ak := make([]byte, AudioKeySize)
	for i := 0; i < 0x20; i++ {
		vk[i] = k[i]
		vk[0x20+i] = k[i] ^ 0xFF
		if i%2 != 0 {
			ak[i] = audioT[(i>>1)%4]
		} else {
			ak[i] = k[i] ^ 0xFF
		}
	}

	return vk, ak
}

// CryptVideoPacket applies the video XOR transform to packet in place
// and returns it. forward selects the encryption pass order; !forward
// selects the decryption (inverse) order. Packets shorter than 0x240
// bytes are returned unchanged, since the start-code region they'd need
// for the rolling state doesn't exist.
func CryptVideoPacket(packet []byte, videoKey []byte, forward bool) ([]byte, error) {
	if len(videoKey) < VideoKeySize {
		return nil, usmerrors.ErrInvalidKey{Want: VideoKeySize, Got: len(videoKey)}
	}
	if len(packet) < videoMinPacketLen {
		return packet, nil
	}

	encryptedLen := len(packet) - videoEncryptedStart
	rolling := make([]byte, VideoKeySize)
	copy(rolling, videoKey)

	firstPass := func() {
		for i := 0; i < videoStartCodeLen; i++ {
			rolling[i%0x20] ^= packet[videoStartCodeStart+i]
			packet[videoEncryptedStart+i] ^= rolling[i%0x20]
		}
	}

	secondPassEncrypt := func() {
		for i := videoStartCodeLen; i < encryptedLen; i++ {
			plain := packet[videoEncryptedStart+i]
			packet[videoEncryptedStart+i] ^= rolling[0x20+i%0x20]
			rolling[0x20+i%0x20] = plain ^ videoKey[0x20+i%0x20]
		}
	}

	secondPassDecrypt := func() {
		for i := videoStartCodeLen; i < encryptedLen; i++ {
			packet[videoEncryptedStart+i] ^= rolling[0x20+i%0x20]
			rolling[0x20+i%0x20] = packet[videoEncryptedStart+i] ^ videoKey[0x20+i%0x20]
		}
	}

	if forward {
		firstPass()
		secondPassEncrypt()
	} else {
		secondPassDecrypt()
		firstPass()
	}

	return packet, nil
}

// CryptAudioPacket applies the audio XOR transform to packet in place
// and returns it. The operation is involutive, so the same function
// serves both encryption and decryption. Packets of 0x140 bytes or
// fewer are returned unchanged.
func CryptAudioPacket(packet []byte, audioKey []byte) ([]byte, error) {
	if len(audioKey) < AudioKeySize {
		return nil, usmerrors.ErrInvalidKey{Want: AudioKeySize, Got: len(audioKey)}
	}
	if len(packet) <= audioEncryptedStart {
		return packet, nil
	}

	for i := audioEncryptedStart; i < len(packet); i++ {
		packet[i] ^= audioKey[i%0x20]
	}

	return packet, nil
}
