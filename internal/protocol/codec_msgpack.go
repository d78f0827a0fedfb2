package protocol

import "github.com/vmihailenco/msgpack/v5"

type msgpackCodec struct{}

func (c *msgpackCodec) Marshal(v interface{}) ([]byte, error)      { return msgpack.Marshal(v) }
func (c *msgpackCodec) Unmarshal(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }
func (c *msgpackCodec) Name() string                               { return "msgpack" }
