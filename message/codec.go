package message

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/glimte/mmate-jms/contracts"
)

// wireValue carries a typed value as a (type tag, text) pair so that narrow integer types,
// Char and float32 survive a JSON round trip.
type wireValue struct {
	T string `json:"t"`
	V string `json:"v,omitempty"`
}

type wireDestination struct {
	Name      string `json:"name"`
	Temporary bool   `json:"temp,omitempty"`
	Owner     string `json:"owner,omitempty"`
}

type wireMessage struct {
	Kind          Kind                 `json:"kind"`
	MessageID     string               `json:"id,omitempty"`
	Timestamp     int64                `json:"ts,omitempty"`
	CorrelationID string               `json:"cid,omitempty"`
	ReplyTo       *wireDestination     `json:"replyTo,omitempty"`
	Destination   *wireDestination     `json:"dest,omitempty"`
	DeliveryMode  int                  `json:"mode"`
	Type          string               `json:"type,omitempty"`
	Expiration    int64                `json:"exp,omitempty"`
	Priority      int                  `json:"prio"`
	Properties    map[string]wireValue `json:"props,omitempty"`
	Origin        string               `json:"origin,omitempty"`

	Bytes  []byte               `json:"bytes,omitempty"`
	Map    map[string]wireValue `json:"map,omitempty"`
	Stream []wireValue          `json:"stream,omitempty"`
	Text   string               `json:"text,omitempty"`
	Object []byte               `json:"object,omitempty"`
}

func encodeValue(v any) (wireValue, error) {
	switch x := v.(type) {
	case nil:
		return wireValue{T: "null"}, nil
	case bool:
		return wireValue{T: "bool", V: strconv.FormatBool(x)}, nil
	case int8:
		return wireValue{T: "i8", V: strconv.FormatInt(int64(x), 10)}, nil
	case int16:
		return wireValue{T: "i16", V: strconv.FormatInt(int64(x), 10)}, nil
	case Char:
		return wireValue{T: "char", V: strconv.FormatUint(uint64(x), 10)}, nil
	case int32:
		return wireValue{T: "i32", V: strconv.FormatInt(int64(x), 10)}, nil
	case int64:
		return wireValue{T: "i64", V: strconv.FormatInt(x, 10)}, nil
	case float32:
		return wireValue{T: "f32", V: strconv.FormatFloat(float64(x), 'g', -1, 32)}, nil
	case float64:
		return wireValue{T: "f64", V: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case string:
		return wireValue{T: "str", V: x}, nil
	case []byte:
		return wireValue{T: "bytes", V: base64.StdEncoding.EncodeToString(x)}, nil
	}
	return wireValue{}, fmt.Errorf("%w: unsupported value type %T", contracts.ErrFormatMismatch, v)
}

func decodeValue(w wireValue) (any, error) {
	switch w.T {
	case "null":
		return nil, nil
	case "bool":
		return strconv.ParseBool(w.V)
	case "i8":
		n, err := strconv.ParseInt(w.V, 10, 8)
		return int8(n), err
	case "i16":
		n, err := strconv.ParseInt(w.V, 10, 16)
		return int16(n), err
	case "char":
		n, err := strconv.ParseUint(w.V, 10, 16)
		return Char(n), err
	case "i32":
		n, err := strconv.ParseInt(w.V, 10, 32)
		return int32(n), err
	case "i64":
		return strconv.ParseInt(w.V, 10, 64)
	case "f32":
		f, err := strconv.ParseFloat(w.V, 32)
		return float32(f), err
	case "f64":
		return strconv.ParseFloat(w.V, 64)
	case "str":
		return w.V, nil
	case "bytes":
		return base64.StdEncoding.DecodeString(w.V)
	}
	return nil, fmt.Errorf("unknown value tag %q", w.T)
}

func encodeDestination(d contracts.Destination) *wireDestination {
	switch x := d.(type) {
	case nil:
		return nil
	case *contracts.TemporaryTopic:
		return &wireDestination{Name: x.TopicName(), Temporary: true, Owner: x.Owner()}
	default:
		return &wireDestination{Name: d.TopicName()}
	}
}

func decodeDestination(w *wireDestination) (contracts.Destination, error) {
	if w == nil {
		return nil, nil
	}
	if w.Temporary {
		return contracts.NewTemporaryTopic(w.Name, w.Owner), nil
	}
	return contracts.NewTopic(w.Name)
}

// Encode converts a message into the transport payload
func Encode(msg Message) ([]byte, error) {
	env := msg.Env()
	w := wireMessage{
		Kind:          env.kind,
		MessageID:     env.MessageID,
		Timestamp:     env.Timestamp,
		CorrelationID: env.CorrelationID,
		ReplyTo:       encodeDestination(env.ReplyTo),
		Destination:   encodeDestination(env.Destination),
		DeliveryMode:  int(env.DeliveryMode),
		Type:          env.Type,
		Expiration:    env.Expiration,
		Priority:      env.Priority,
		Origin:        env.origin,
	}
	if env.props.Len() > 0 {
		w.Properties = make(map[string]wireValue, env.props.Len())
		for name, v := range env.props.values {
			wv, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			w.Properties[name] = wv
		}
	}

	switch m := msg.(type) {
	case *BytesMessage:
		w.Bytes = m.buf
	case *MapMessage:
		w.Map = make(map[string]wireValue, len(m.entries))
		for name, v := range m.entries {
			wv, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("map entry %q: %w", name, err)
			}
			w.Map[name] = wv
		}
	case *StreamMessage:
		w.Stream = make([]wireValue, 0, len(m.items))
		for i, v := range m.items {
			wv, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("stream item %d: %w", i, err)
			}
			w.Stream = append(w.Stream, wv)
		}
	case *TextMessage:
		w.Text = m.text
	case *ObjectMessage:
		w.Object = m.data
	default:
		return nil, fmt.Errorf("%w: unsupported message type %T", contracts.ErrInvalidArgument, msg)
	}

	data, err := sonic.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode rebuilds a message from a transport payload. The result has the received body
// state: bytes and stream bodies are read-only, the other kinds are readable but sealed.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	msg, err := New(w.Kind)
	if err != nil {
		return nil, err
	}
	env := msg.Env()
	env.MessageID = w.MessageID
	env.Timestamp = w.Timestamp
	env.CorrelationID = w.CorrelationID
	env.DeliveryMode = contracts.DeliveryMode(w.DeliveryMode)
	env.Type = w.Type
	env.Expiration = w.Expiration
	env.Priority = w.Priority
	env.origin = w.Origin
	if env.ReplyTo, err = decodeDestination(w.ReplyTo); err != nil {
		return nil, err
	}
	if env.Destination, err = decodeDestination(w.Destination); err != nil {
		return nil, err
	}
	for name, wv := range w.Properties {
		v, err := decodeValue(wv)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		env.props.values[name] = v
	}

	switch m := msg.(type) {
	case *BytesMessage:
		m.buf = w.Bytes
	case *MapMessage:
		for name, wv := range w.Map {
			v, err := decodeValue(wv)
			if err != nil {
				return nil, fmt.Errorf("map entry %q: %w", name, err)
			}
			m.entries[name] = v
		}
	case *StreamMessage:
		for i, wv := range w.Stream {
			v, err := decodeValue(wv)
			if err != nil {
				return nil, fmt.Errorf("stream item %d: %w", i, err)
			}
			m.items = append(m.items, v)
		}
	case *TextMessage:
		m.text = w.Text
	case *ObjectMessage:
		m.data = w.Object
	}

	env.markReceived()
	return msg, nil
}
