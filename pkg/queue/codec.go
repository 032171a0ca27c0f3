package queue

import "encoding/json"

func encodeMessage(msg storedMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeMessage(data []byte) (storedMessage, error) {
	var msg storedMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
