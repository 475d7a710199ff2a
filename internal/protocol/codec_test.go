package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncode verifies request line framing and zero-value suppression.
func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args Args
		want string
	}{
		{
			name: "no args",
			cmd:  "noop",
			args: nil,
			want: "noop \r\n",
		},
		{
			name: "sorted keys",
			cmd:  "get_paths",
			args: Args{"key": "foo", "domain": "photos"},
			want: "get_paths domain=photos&key=foo\r\n",
		},
		{
			name: "empty values dropped",
			cmd:  "create_open",
			args: Args{"domain": "d", "class": "", "key": "k"},
			want: "create_open domain=d&key=k\r\n",
		},
		{
			name: "space and plus escaped",
			cmd:  "rename",
			args: Args{"from_key": "a b", "to_key": "a+b"},
			want: "rename from_key=a+b&to_key=a%2Bb\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.cmd, tt.args))
		})
	}
}

// TestArgsSetters verifies the helpers never store zero values.
func TestArgsSetters(t *testing.T) {
	args := Args{}
	args.SetInt("fid", 0)
	args.SetInt("size", 12)
	args.Set("class", "")
	args.Set("domain", "d")
	args.SetBool("noverify", false)
	args.SetBool("multi_dest", true)

	assert.Equal(t, Args{"size": "12", "domain": "d", "multi_dest": "1"}, args)

	args.SetInt("size", 0)
	assert.NotContains(t, args, "size")

	args.Merge(Args{"domain": "other", "extra": ""})
	assert.Equal(t, "other", args["domain"])
	assert.NotContains(t, args, "extra")
}

// TestDecodeOK covers the success shapes a tracker can send.
func TestDecodeOK(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Response
	}{
		{"pairs", "OK a=1&b=2\r\n", Response{"a": "1", "b": "2"}},
		{"empty with space", "OK ", Response{}},
		{"bare ok", "OK\r\n", Response{}},
		{"numeric prefix", "OK 42 path1=http%3A%2F%2Fnode%2Fp&paths=1\n", Response{"path1": "http://node/p", "paths": "1"}},
		{"numeric only", "OK 0\r\n", Response{}},
		{"plus is space", "OK key=a+b\r\n", Response{"key": "a b"}},
		{"blank value kept", "OK next_after=&key_count=0\r\n", Response{"next_after": "", "key_count": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}

// TestDecodeERR verifies typed command errors and plus decoding.
func TestDecodeERR(t *testing.T) {
	t.Run("percent encoded plus", func(t *testing.T) {
		_, err := Decode("ERR unknown_key some%2Bmessage\r\n")
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, "unknown_key", cmdErr.Code)
		assert.Equal(t, "some+message", cmdErr.Message)
		assert.True(t, IsCode(err, CodeUnknownKey))
	})

	t.Run("literal plus becomes space", func(t *testing.T) {
		_, err := Decode("ERR unknown_key some+message\r\n")
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, "some message", cmdErr.Message)
	})

	t.Run("code only", func(t *testing.T) {
		_, err := Decode("ERR empty_file\r\n")
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, "empty_file", cmdErr.Code)
		assert.Empty(t, cmdErr.Message)
		assert.Equal(t, "tracker error empty_file", cmdErr.Error())
	})

	t.Run("malformed escape kept", func(t *testing.T) {
		_, err := Decode("ERR bad_args 100%+off\r\n")
		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, "100% off", cmdErr.Message)
	})
}

// TestDecodeInvalid verifies everything else is a protocol error.
func TestDecodeInvalid(t *testing.T) {
	for _, line := range []string{"", "\r\n", "HELLO there", "OKAY a=1", "ERR", "OK %zz=1"} {
		t.Run(line, func(t *testing.T) {
			res, err := Decode(line)
			assert.Nil(t, res)
			var protoErr *ProtocolError
			assert.True(t, errors.As(err, &protoErr), "expected protocol error for %q, got %v", line, err)
		})
	}
}

// TestResponseHelpers verifies typed access to indexed responses.
func TestResponseHelpers(t *testing.T) {
	res := Response{"paths": "2", "path1": "http://a/1", "path2": "http://b/1", "bad": "x"}

	n, err := res.Count("paths")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	paths, err := res.Indexed("path%d", n)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/1", "http://b/1"}, paths)

	_, err = res.Indexed("path%d", 3)
	assert.Error(t, err)

	zero, err := res.Count("missing")
	require.NoError(t, err)
	assert.Zero(t, zero)

	_, err = res.Int("bad")
	assert.Error(t, err)

	_, err = res.Require("nope")
	assert.EqualError(t, err, `response missing "nope"`)
}
