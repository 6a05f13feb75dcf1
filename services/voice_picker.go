package services

import (
	"crypto/sha1"
	"encoding/binary"
	"strings"
)

// Stock ElevenLabs voices by gender
var femaleVoices = []string{
	"EXAVITQu4vr4xnSDxMaL", // Sarah
	"21m00Tcm4TlvDq8ikWAM", // Rachel
	"AZnzlk1XvdvUeBnXmlld", // Domi
	"MF3mGyEYCl7XYWbV9V6O", // Elli
	"cgSgspJ2msm6clMCkdW9", // Jessica
}

var maleVoices = []string{
	"pNInz6obpgDQGcFmaJgB", // Adam
	"TxGEqnHWrfWFTfGW9XjX", // Josh
	"VR6AewLTigWG4xSOukaG", // Arnold
	"ErXwobaYiN019PkySvjV", // Antoni
	"yoZ06aMxZJJ28mfd3POQ", // Sam
}

// PickVoice returns a stable voice for speaker among the stock voices of
// gender. An unnamed speaker or unknown gender yields fallback.
func PickVoice(speaker, gender, fallback string) string {
	speaker = strings.ToLower(strings.TrimSpace(speaker))
	if speaker == "" {
		return fallback
	}

	var pool []string
	switch strings.ToLower(gender) {
	case "female":
		pool = femaleVoices
	case "male":
		pool = maleVoices
	default:
		return fallback
	}

	sum := sha1.Sum([]byte(speaker))
	return pool[binary.BigEndian.Uint16(sum[:2])%uint16(len(pool))]
}
