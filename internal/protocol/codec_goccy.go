package protocol

import "github.com/goccy/go-json"

type goccyJSONCodec struct{}

func newGoccyCodec() *goccyJSONCodec { return &goccyJSONCodec{} }

func (c *goccyJSONCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (c *goccyJSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (c *goccyJSONCodec) Name() string                               { return "json-goccy" }
