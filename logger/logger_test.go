package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestInit_DefaultLevelLogsInfo(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	if Log.Desugar().Core().Enabled(zap.ErrorLevel) {
		t.Fatal("Expected the logger to be a no-op before Init")
	}

	if err := Init("", false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !Log.Desugar().Core().Enabled(zap.InfoLevel) {
		t.Error("Expected info to be enabled after Init with no level")
	}
	if Log.Desugar().Core().Enabled(zap.DebugLevel) {
		t.Error("Expected debug to stay off in production mode")
	}
}

func TestInit_BadLevelKeepsLogger(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	if err := Init("", false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	bootstrap := Log

	if err := Init("loud", false); err == nil {
		t.Fatal("Expected an error for an unknown level")
	}
	if Log != bootstrap {
		t.Error("Expected a failed Init to leave the previous logger in place")
	}

	if err := Init("debug", true); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !Log.Desugar().Core().Enabled(zap.DebugLevel) {
		t.Error("Expected debug to be enabled")
	}
}
