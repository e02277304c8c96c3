package testing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAWSChunked(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "signed chunks",
			body: "5;chunk-signature=abc\r\nhello\r\n6;chunk-signature=def\r\n world\r\n0;chunk-signature=fff\r\n\r\n",
			want: "hello world",
		},
		{
			name: "unsigned with trailer",
			body: "3\r\nabc\r\n0\r\nx-amz-checksum-crc32:AAAAAA==\r\n\r\n",
			want: "abc",
		},
		{
			name: "empty",
			body: "0;chunk-signature=fff\r\n\r\n",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAWSChunked(strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecodeAWSChunked_Truncated(t *testing.T) {
	_, err := decodeAWSChunked(strings.NewReader("a;chunk-signature=abc\r\nshort"))
	assert.Error(t, err)

	_, err = decodeAWSChunked(strings.NewReader("zz\r\n"))
	assert.Error(t, err)
}
