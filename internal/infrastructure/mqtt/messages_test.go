package mqtt

import (
	"errors"
	"testing"
	"time"
)

func TestParseSensorMessage(t *testing.T) {
	received := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	t.Run("complete payload", func(t *testing.T) {
		payload := []byte(`{"value":23.5,"unit":"C","timestamp":"2026-08-15T11:59:30Z"}`)
		msg, err := parseSensorMessage("temperature", payload, received)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Type != "temperature" {
			t.Errorf("Type = %q, want temperature", msg.Type)
		}
		if msg.Value != 23.5 {
			t.Errorf("Value = %v, want 23.5", msg.Value)
		}
		if msg.Unit != "C" {
			t.Errorf("Unit = %q, want C", msg.Unit)
		}
		want := time.Date(2026, 8, 15, 11, 59, 30, 0, time.UTC)
		if !msg.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", msg.Timestamp, want)
		}
	})

	t.Run("missing timestamp falls back to receive time", func(t *testing.T) {
		msg, err := parseSensorMessage("moisture", []byte(`{"value":48}`), received)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !msg.Timestamp.Equal(received) {
			t.Errorf("Timestamp = %v, want receive time %v", msg.Timestamp, received)
		}
	})

	t.Run("zero value is valid", func(t *testing.T) {
		msg, err := parseSensorMessage("temperature", []byte(`{"value":0}`), received)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Value != 0 {
			t.Errorf("Value = %v, want 0", msg.Value)
		}
	})

	t.Run("missing value rejected", func(t *testing.T) {
		_, err := parseSensorMessage("temperature", []byte(`{"unit":"C"}`), received)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := parseSensorMessage("temperature", []byte(`{not json`), received)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
	})
}

func TestParseDeviceMessage(t *testing.T) {
	received := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	t.Run("topic name wins over payload name", func(t *testing.T) {
		payload := []byte(`{"name":"spoofed","status":true,"auto_mode":false}`)
		msg, err := parseDeviceMessage("fan", payload, received)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Name != "fan" {
			t.Errorf("Name = %q, want fan", msg.Name)
		}
		if !msg.Status || msg.AutoMode {
			t.Errorf("Status = %v AutoMode = %v, want true false", msg.Status, msg.AutoMode)
		}
	})

	t.Run("status false is valid", func(t *testing.T) {
		msg, err := parseDeviceMessage("irrigation", []byte(`{"status":false}`), received)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Status {
			t.Error("Status = true, want false")
		}
	})

	t.Run("missing status rejected", func(t *testing.T) {
		_, err := parseDeviceMessage("fan", []byte(`{"auto_mode":true}`), received)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
	})
}
