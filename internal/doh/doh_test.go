package doh

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryShape(t *testing.T) {
	q := BuildQuery("cloudflare-ech.com")
	require.True(t, len(q) > 12)
	assert.Equal(t, byte(0x00), q[0])
	assert.Equal(t, byte(0x01), q[1])
	assert.Equal(t, byte(0x01), q[2]) // RD=1
	qdcount := binary.BigEndian.Uint16(q[4:6])
	assert.Equal(t, uint16(1), qdcount)
}

// buildSyntheticHTTPSResponse hand-assembles a minimal DNS response with one
// question and one HTTPS answer carrying an ech SvcParam, to exercise
// ParseHTTPSAnswer without a real network round trip.
func buildSyntheticHTTPSResponse(echValue []byte) []byte {
	msg := []byte{0x00, 0x01, 0x81, 0x80, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}
	for _, label := range []string{"cloudflare-ech", "com"} {
		msg = append(msg, byte(len(label)))
		msg = append(msg, label...)
	}
	msg = append(msg, 0x00)
	msg = append(msg, 0x00, byte(TypeHTTPS))
	msg = append(msg, 0x00, 0x01)

	// answer: name pointer back to question name (offset 12), type, class, ttl, rdlength, rdata
	msg = append(msg, 0xC0, 0x0C)
	msg = append(msg, 0x00, byte(TypeHTTPS))
	msg = append(msg, 0x00, 0x01)
	msg = append(msg, 0x00, 0x00, 0x00, 0x00) // TTL

	var rdata []byte
	rdata = append(rdata, 0x00, 0x01) // SvcPriority
	rdata = append(rdata, 0x00)       // TargetName: root (empty)
	keyBuf := make([]byte, 4)
	binary.BigEndian.PutUint16(keyBuf[0:2], 5)
	binary.BigEndian.PutUint16(keyBuf[2:4], uint16(len(echValue)))
	rdata = append(rdata, keyBuf...)
	rdata = append(rdata, echValue...)

	rdlenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(rdlenBuf, uint16(len(rdata)))
	msg = append(msg, rdlenBuf...)
	msg = append(msg, rdata...)
	return msg
}

func TestParseHTTPSAnswerFindsECHParam(t *testing.T) {
	echBytes := []byte{0xfe, 0x0d, 0x00, 0x41, 0x01, 0x02, 0x03}
	msg := buildSyntheticHTTPSResponse(echBytes)

	echBase64, err := ParseHTTPSAnswer(msg)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(echBase64)
	require.NoError(t, err)
	assert.Equal(t, echBytes, decoded)
}

func TestParseHTTPSAnswerNoAnswers(t *testing.T) {
	msg := []byte{0x00, 0x01, 0x81, 0x80, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := ParseHTTPSAnswer(msg)
	assert.Error(t, err)
}

func TestParseHTTPSAnswerTooShort(t *testing.T) {
	_, err := ParseHTTPSAnswer([]byte{0x00, 0x01})
	assert.Error(t, err)
}
