package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is an alias of time.Duration used for deserializing time strings from json and env
type Duration time.Duration

// Std returns the value as a time.Duration.
func (duration Duration) Std() time.Duration {
	return time.Duration(duration)
}

func (duration *Duration) UnmarshalJSON(b []byte) error {
	var unmarshalledJson interface{}

	err := json.Unmarshal(b, &unmarshalledJson)
	if err != nil {
		return err
	}

	switch value := unmarshalledJson.(type) {
	case float64:
		*duration = Duration(time.Duration(value))
	case string:
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*duration = Duration(d)
	default:
		return fmt.Errorf("invalid duration: %#v", unmarshalledJson)
	}

	return nil
}

// UnmarshalText lets env values like "15m" populate a Duration.
func (duration *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*duration = Duration(d)
	return nil
}

func (duration Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(duration).String())
}
