package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestForTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", "json")
	SetOutput(&buf)

	For("poster").WithField("reply_id", 7).Info("posted")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if line["component"] != "poster" {
		t.Fatalf("component=%v, want poster", line["component"])
	}
	if line["msg"] != "posted" {
		t.Fatalf("msg=%v, want posted", line["msg"])
	}
}

func TestInitUnknownLevel(t *testing.T) {
	Init("loud", "text")
	if Log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level=%v, want info", Log.GetLevel())
	}
}
