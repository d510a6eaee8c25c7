// Package decoder runs javascript codecs over sigfox downlink payloads.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robertkrimen/otto"
	"go.viam.com/rdk/logging"
)

// Timeout bounds the execution of a codec.
const Timeout = 100 * time.Millisecond

var (
	errUnexpectedType = errors.New("codec returned unexpected data type")
	errTimeout        = errors.New("execution timeout")
	errBadURL         = errors.New("error getting decoder")
)

// IsURL reports whether the decoder path should be downloaded.
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// DecodeDownlink runs the Decode(bytes) function of the codec at path over payload.
func DecodeDownlink(path string, payload []byte) (map[string]interface{}, error) {
	script, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return decode(string(script), payload)
}

func decode(script string, payload []byte) (map[string]interface{}, error) {
	script += "\n\nDecode(bytes);\n"

	v, err := executeJS(script, map[string]interface{}{"bytes": payload})
	if err != nil {
		return nil, err
	}

	readings, ok := v.(map[string]interface{})
	if !ok {
		return nil, errUnexpectedType
	}
	return readings, nil
}

func executeJS(script string, vars map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			err = fmt.Errorf("%v", caught)
		}
	}()

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	vm.SetStackDepthLimit(32)

	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return nil, err
		}
	}

	timer := time.AfterFunc(Timeout, func() {
		vm.Interrupt <- func() {
			panic(errTimeout)
		}
	})
	defer timer.Stop()

	val, err := vm.Run(script)
	if err != nil {
		return nil, err
	}
	return val.Export()
}

// FetchDecoder downloads the codec at url into dir, unless it was already downloaded.
func FetchDecoder(ctx context.Context, dir, filename, url string, httpClient *http.Client, logger logging.Logger) (string, error) {
	filePath := filepath.Join(dir, filename)

	//nolint:gosec
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	//nolint:errcheck
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status code %d", errBadURL, res.StatusCode)
	}
	script, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}

	logger.Debugf("writing decoder to file %s", filePath)
	if err := os.WriteFile(filePath, script, 0o600); err != nil {
		return "", err
	}
	return filePath, nil
}
