package magpie

import (
	"encoding/json"

	"github.com/tinylib/msgp/msgp"
)

// Serialization of parse results, for handing parsed forms across process
// boundaries (task queues, test fixtures). Both formats encode the flat
// ordered pair sequence, so duplicates and insertion order survive the
// round trip.

// ToJSON serializes the header collection as an array of {name, value}
// objects in insertion order.
func (h *Headers) ToJSON() ([]byte, error) {
	if h.pairs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.pairs)
}

// HeadersFromJSON deserializes the array form produced by ToJSON.
func HeadersFromJSON(data []byte) (*Headers, error) {
	var pairs []HeaderPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, err
	}
	return newHeaders(pairs), nil
}

// ToMessagePack serializes the header collection as a MessagePack array
// of [name, value] arrays in insertion order.
func (h *Headers) ToMessagePack() ([]byte, error) {
	return appendPairs(nil, len(h.pairs), func(b []byte, i int) []byte {
		b = msgp.AppendString(b, h.pairs[i].Key)
		return msgp.AppendString(b, h.pairs[i].Value)
	}), nil
}

// HeadersFromMessagePack deserializes the array form produced by
// ToMessagePack.
func HeadersFromMessagePack(data []byte) (*Headers, error) {
	pairs, err := readPairs(data)
	if err != nil {
		return nil, err
	}
	h := make([]HeaderPair, len(pairs))
	for i, p := range pairs {
		h[i] = HeaderPair{Key: p[0], Value: p[1]}
	}
	return newHeaders(h), nil
}

// FormToMessagePack serializes a field dict as a MessagePack array of
// [key, value] arrays in insertion order.
func FormToMessagePack(d *MultiDict[string]) ([]byte, error) {
	return appendPairs(nil, len(d.pairs), func(b []byte, i int) []byte {
		b = msgp.AppendString(b, d.pairs[i].Key)
		return msgp.AppendString(b, d.pairs[i].Value)
	}), nil
}

// FormFromMessagePack deserializes the array form produced by
// FormToMessagePack.
func FormFromMessagePack(data []byte) (*MultiDict[string], error) {
	pairs, err := readPairs(data)
	if err != nil {
		return nil, err
	}
	d := NewMultiDict[string]()
	for _, p := range pairs {
		d.Add(p[0], p[1])
	}
	return d, nil
}

func appendPairs(b []byte, n int, appendPair func([]byte, int) []byte) []byte {
	b = msgp.AppendArrayHeader(b, uint32(n))
	for i := 0; i < n; i++ {
		b = msgp.AppendArrayHeader(b, 2)
		b = appendPair(b, i)
	}
	return b
}

func readPairs(data []byte) ([][2]string, error) {
	count, data, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var size uint32
		size, data, err = msgp.ReadArrayHeaderBytes(data)
		if err != nil {
			return nil, err
		}
		if size != 2 {
			return nil, msgp.ArrayError{Wanted: 2, Got: size}
		}
		var key, value string
		key, data, err = msgp.ReadStringBytes(data)
		if err != nil {
			return nil, err
		}
		value, data, err = msgp.ReadStringBytes(data)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs, nil
}
