package models

import (
	"bytes"
	"encoding/json"
)

// StringList decodes from either a JSON array or a single string. Older
// extension builds send a lone key or sound state without wrapping it.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = StringList{single}
	return nil
}

// FloatList is the numeric counterpart of StringList, used for playback speeds.
type FloatList []float64

func (l *FloatList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []float64
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single float64
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = FloatList{single}
	return nil
}
