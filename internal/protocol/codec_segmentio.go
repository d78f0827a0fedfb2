package protocol

import "github.com/segmentio/encoding/json"

type segmentioJSONCodec struct{}

func newSegmentioCodec() *segmentioJSONCodec { return &segmentioJSONCodec{} }

func (c *segmentioJSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (c *segmentioJSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (c *segmentioJSONCodec) Name() string { return "json-segmentio" }
