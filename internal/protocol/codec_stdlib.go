package protocol

import "encoding/json"

type stdlibJSONCodec struct{}

func (c *stdlibJSONCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (c *stdlibJSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (c *stdlibJSONCodec) Name() string                               { return "json-stdlib" }
