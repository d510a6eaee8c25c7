package decoder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

const testCodec = `
function Decode(bytes) {
	return {
		command: bytes[0],
		interval_min: (bytes[1] << 8) | bytes[2],
		led: bytes[3] === 1,
		length: bytes.length,
	};
}
`

func writeCodec(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "downlink.js")
	test.That(t, os.WriteFile(path, []byte(script), 0o600), test.ShouldBeNil)
	return path
}

func TestDecodeDownlink(t *testing.T) {
	t.Run("valid codec", func(t *testing.T) {
		path := writeCodec(t, testCodec)
		readings, err := DecodeDownlink(path, []byte{0x02, 0x00, 0x3C, 0x01, 0, 0, 0, 0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, readings["command"], test.ShouldEqual, 2)
		test.That(t, readings["interval_min"], test.ShouldEqual, 60)
		test.That(t, readings["led"], test.ShouldEqual, true)
		test.That(t, readings["length"], test.ShouldEqual, 8)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := DecodeDownlink(filepath.Join(t.TempDir(), "missing.js"), []byte{1})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("codec returns a non object", func(t *testing.T) {
		path := writeCodec(t, "function Decode(bytes) { return 4; }")
		_, err := DecodeDownlink(path, []byte{1})
		test.That(t, err, test.ShouldBeError, errUnexpectedType)
	})

	t.Run("codec syntax error", func(t *testing.T) {
		path := writeCodec(t, "function Decode(bytes) { return {")
		_, err := DecodeDownlink(path, []byte{1})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("codec never returns", func(t *testing.T) {
		path := writeCodec(t, "function Decode(bytes) { while (true) {} }")
		_, err := DecodeDownlink(path, []byte{1})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, errTimeout.Error())
	})
}

func TestIsURL(t *testing.T) {
	test.That(t, IsURL("https://example.com/codec.js"), test.ShouldBeTrue)
	test.That(t, IsURL("http://example.com/codec.js"), test.ShouldBeTrue)
	test.That(t, IsURL("/data/codec.js"), test.ShouldBeFalse)
}

func TestFetchDecoder(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("successful request", func(t *testing.T) {
		requests := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.WriteHeader(http.StatusOK)
			//nolint:errcheck
			w.Write([]byte(testCodec))
		}))
		defer srv.Close()

		dir := t.TempDir()
		path, err := FetchDecoder(ctx, dir, "codec.js", srv.URL+"/codec", srv.Client(), logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, path, test.ShouldEqual, filepath.Join(dir, "codec.js"))

		readings, err := DecodeDownlink(path, []byte{0x05, 0, 1, 0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, readings["command"], test.ShouldEqual, 5)

		// an existing decoder is not downloaded again
		_, err = FetchDecoder(ctx, dir, "codec.js", srv.URL+"/codec", srv.Client(), logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, requests, test.ShouldEqual, 1)
	})

	t.Run("failed request", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := FetchDecoder(ctx, t.TempDir(), "codec.js", srv.URL, srv.Client(), logger)
		test.That(t, errors.Is(err, errBadURL), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "404")
	})
}
