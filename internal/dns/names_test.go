package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadName(t *testing.T) {
	// "example.com" at offset 0, then "www" pointing back at it.
	base := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	withPtr := append(append([]byte{}, base...), 3, 'w', 'w', 'w', 0xC0, 0x00)

	tests := []struct {
		name     string
		msg      []byte
		off      int
		want     string
		wantNext int
		wantErr  bool
	}{
		{name: "root", msg: []byte{0}, want: "", wantNext: 1},
		{name: "plain", msg: base, want: "example.com", wantNext: len(base)},
		{name: "label then pointer", msg: withPtr, off: len(base), want: "www.example.com", wantNext: len(withPtr)},
		{name: "pointer only", msg: []byte{0, 0xC0, 0x00}, off: 1, want: "", wantNext: 3},
		{name: "self loop", msg: []byte{0xC0, 0x00}, wantErr: true},
		{name: "two pointer loop", msg: []byte{0xC0, 0x02, 0xC0, 0x00}, wantErr: true},
		{name: "truncated label", msg: []byte{3, 'w', 'w'}, wantErr: true},
		{name: "missing terminator", msg: []byte{1, 'a'}, wantErr: true},
		{name: "truncated pointer", msg: []byte{0xC0}, wantErr: true},
		{name: "reserved label type", msg: []byte{0x40, 0}, wantErr: true},
		{name: "non ascii", msg: []byte{1, 0xE9, 0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next, err := readName(tt.msg, tt.off)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrDNSError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}

func TestReadName_TooLong(t *testing.T) {
	var msg []byte
	for range 5 {
		msg = append(msg, 63)
		for range 63 {
			msg = append(msg, 'a')
		}
	}
	msg = append(msg, 0)

	_, _, err := readName(msg, 0)
	require.ErrorIs(t, err, ErrDNSError)
}

func TestReadQuestion(t *testing.T) {
	msg := []byte{3, 'c', 'o', 'm', 0, 0, 28, 0, 1}

	q, next, err := readQuestion(msg, 0)
	require.NoError(t, err)
	assert.Equal(t, Question{Name: "com", Type: uint16(TypeAAAA), Class: uint16(ClassIN)}, q)
	assert.Equal(t, len(msg), next)

	_, _, err = readQuestion(msg[:len(msg)-1], 0)
	require.ErrorIs(t, err, ErrDNSError)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "www.example.com", NormalizeName("WWW.Example.COM."))
	assert.Equal(t, "", NormalizeName("."))
}

func TestSkipName(t *testing.T) {
	tests := []struct {
		name    string
		msg     []byte
		off     int
		want    int
		wantErr bool
	}{
		{name: "root", msg: []byte{0}, want: 1},
		{name: "labels", msg: []byte{3, 'w', 'w', 'w', 3, 'c', 'o', 'm', 0}, want: 9},
		{name: "pointer", msg: []byte{0, 0, 0xC0, 0x00}, off: 2, want: 4},
		{name: "label then pointer", msg: []byte{1, 'a', 0xC0, 0x0C, 9}, want: 4},
		{name: "truncated", msg: []byte{3, 'w', 'w'}, wantErr: true},
		{name: "truncated pointer", msg: []byte{0xC0}, wantErr: true},
		{name: "reserved bits", msg: []byte{0x80, 0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SkipName(tt.msg, tt.off)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrDNSError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRCodeString(t *testing.T) {
	assert.Equal(t, "NXDOMAIN", RCodeNXDomain.String())
	assert.Equal(t, "RCODE9", RCode(9).String())
	assert.Equal(t, uint16(2), OpcodeFromFlags(2<<11|RDFlag))
	assert.Equal(t, RCodeRefused, RCodeFromFlags(QRFlag|uint16(RCodeRefused)))
}
