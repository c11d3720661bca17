package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// WidgetUser is the normalized Telegram widget payload. The widget sends
// snake_case fields, popup messages camelCase; NormalizeWidgetData is the
// single place both spellings are reconciled, so a schema change touches
// one function.
type WidgetUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	AuthDate  int64  `json:"authDate"`
	Hash      string `json:"hash"`
}

// NormalizeWidgetData maps a raw widget payload into a WidgetUser,
// accepting both snake_case and camelCase keys and the numeric encodings
// Telegram is known to use (number, string, json.Number).
func NormalizeWidgetData(raw map[string]any) (*WidgetUser, error) {
	if raw == nil {
		return nil, fmt.Errorf("empty payload")
	}
	id, err := intField(raw, "id")
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	authDate, err := intField(raw, "auth_date", "authDate")
	if err != nil {
		return nil, fmt.Errorf("auth_date: %w", err)
	}
	return &WidgetUser{
		ID:        id,
		FirstName: stringField(raw, "first_name", "firstName"),
		LastName:  stringField(raw, "last_name", "lastName"),
		Username:  stringField(raw, "username"),
		PhotoURL:  stringField(raw, "photo_url", "photoUrl"),
		AuthDate:  authDate,
		Hash:      stringField(raw, "hash"),
	}, nil
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			switch t := v.(type) {
			case string:
				return t
			case fmt.Stringer:
				return t.String()
			}
		}
	}
	return ""
}

func intField(raw map[string]any, keys ...string) (int64, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			return int64(t), nil
		case json.Number:
			return t.Int64()
		case string:
			return strconv.ParseInt(t, 10, 64)
		default:
			return 0, fmt.Errorf("unsupported type %T", v)
		}
	}
	return 0, fmt.Errorf("missing")
}
