package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

const maxPooledBuffer = 16 * 1024

var encodeBuffers = sync.Pool{
	New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 1024)) },
}

// Marshal encodes data as a newline-terminated JSON document.
func Marshal(data interface{}) ([]byte, error) {
	buf := encodeBuffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			encodeBuffers.Put(buf)
		}
	}()

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalStrict decodes data into a generic value and rejects trailing garbage.
func UnmarshalStrict(data []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty JSON document")
	}
	if !sonic.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON document")
	}

	var value interface{}
	if err := sonic.ConfigStd.Unmarshal(trimmed, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// UnmarshalConfig converts a loosely typed config section into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	switch typed := config.(type) {
	case nil:
		return fmt.Errorf("config is nil")
	case *T:
		*target = *typed
		return nil
	case T:
		*target = typed
		return nil
	}

	raw, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}
	return sonic.ConfigDefault.Unmarshal(raw, target)
}
