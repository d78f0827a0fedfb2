package protocol

import "fmt"

// Codec serializes admin events and OOBW probe bodies. The engine is
// selectable per spec.md's domain-stack expansion (config.go's
// ProtocolConfig.JSONEngine) so deployments can trade the standard
// library's encoding/json for a faster drop-in without touching call
// sites.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// Engine names a JSON codec implementation.
type Engine string

const (
	EngineStdlib    Engine = "stdlib"
	EngineGoccy     Engine = "goccy"
	EngineSegmentio Engine = "segmentio"
	EngineMsgpack   Engine = "msgpack"
)

// NewCodec builds the Codec for the named engine.
func NewCodec(engine Engine) (Codec, error) {
	switch engine {
	case EngineStdlib, "":
		return &stdlibJSONCodec{}, nil
	case EngineGoccy:
		return newGoccyCodec(), nil
	case EngineSegmentio:
		return newSegmentioCodec(), nil
	case EngineMsgpack:
		return &msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown codec engine %q", engine)
	}
}
