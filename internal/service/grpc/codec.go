package grpcsvc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName — content-subtype JSON-кодека: application/grpc+json.
const CodecName = "json"

// jsonCodec кодирует сообщения сервиса в JSON. Сообщения — обычные Go-структуры
// с json-тегами, поэтому сервису не нужен сгенерированный protobuf-код.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
