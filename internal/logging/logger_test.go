package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/config"
)

func TestNewJSONLoggerWithService(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(config.LogConfig{Level: "debug"}, &buf)
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	WithService(l, "yurei").WithField("k", "v").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if line["service"] != "yurei" || line["k"] != "v" || line["msg"] != "hello" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	l := newWithWriter(config.LogConfig{Level: "chatty", Format: "text"}, &bytes.Buffer{})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", l.GetLevel())
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	l, ok := Discard().(*logrus.Logger)
	if !ok {
		t.Fatalf("expected *logrus.Logger, got %T", Discard())
	}
	if l.Out != io.Discard {
		t.Fatalf("expected output to be discarded, got %T", l.Out)
	}
}
