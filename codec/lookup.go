package codec

import "fmt"

// Lookup returns the codec registered under name for V. "string" and "bytes"
// only resolve when V is string or []byte respectively.
func Lookup[V any](name string) (Codec[V], error) {
	switch name {
	case "json":
		return JSON[V]{}, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	case "cbor":
		return NewCBOR[V](false)
	case "cbor-det":
		return NewCBOR[V](true)
	case "string":
		if c, ok := any(String{}).(Codec[V]); ok {
			return c, nil
		}
	case "bytes":
		if c, ok := any(Bytes{}).(Codec[V]); ok {
			return c, nil
		}
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	var zero V
	return nil, fmt.Errorf("codec: %q cannot carry %T values", name, zero)
}
