package journal

import "encoding/json"

// JSONSerializer is the default Serializer. stairway.New always opens the
// journal with it; the engine has no option to substitute another one.
type JSONSerializer struct{}

func (JSONSerializer) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONSerializer) Decode(s string, out *any) error {
	if s == "" {
		*out = nil
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

var _ Serializer = JSONSerializer{}
