package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"partforge/internal/config"
	"partforge/internal/logging"
	"partforge/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "partforge.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerSubjectAndSource(t *testing.T) {
	tempDir := t.TempDir()
	infoPath := filepath.Join(tempDir, "info.log")
	debugPath := filepath.Join(tempDir, "debug.log")

	info, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{infoPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	info.Info("round finished",
		logging.String(logging.FieldComponent, "extraction"),
		logging.String(logging.FieldRunID, "0123456789abcdef"),
		logging.String(logging.FieldStage, "extraction"),
		logging.String(logging.FieldUnitID, "wheel_front"),
		logging.Int(logging.FieldRound, 2),
	)

	debug, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{debugPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	debug.Info("with caller")

	infoContent, _ := os.ReadFile(infoPath)
	line := string(infoContent)
	if !strings.Contains(line, "extraction [run 01234567 | extraction | wheel_front]: round finished") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "round=2") {
		t.Fatalf("expected round attribute, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}

	debugContent, _ := os.ReadFile(debugPath)
	if !strings.Contains(string(debugContent), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", debugContent)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestJSONFileHandlerKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "run.jsonl")
	handler, closer, err := logging.NewJSONFileHandler(path, "info")
	if err != nil {
		t.Fatalf("NewJSONFileHandler: %v", err)
	}
	slog.New(handler).Info("stage completed", logging.String(logging.FieldEventType, "stage_complete"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	for _, key := range []string{"ts", "level", "msg", "event_type"} {
		if _, ok := record[key]; !ok {
			t.Fatalf("missing key %q in %v", key, record)
		}
	}
	if record["level"] != "info" {
		t.Fatalf("expected lower-case level, got %v", record["level"])
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-9")
	ctx = services.WithStage(ctx, "assembly")
	ctx = services.WithUnitID(ctx, "chassis")
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WithContext(ctx, logger).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		logging.FieldRunID:         "run-9",
		logging.FieldStage:         "assembly",
		logging.FieldUnitID:        "chassis",
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("field %s = %v, want %q", key, record[key], value)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "packing overflowed", "packing_overflow")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[logging.FieldEventType] != "packing_overflow" {
		t.Fatalf("unexpected event type %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil || record[logging.FieldImpact] == nil {
		t.Fatalf("expected hint and impact defaults, got %v", record)
	}
}

func TestFailureAttrsUsesServiceDetails(t *testing.T) {
	err := services.Wrap(services.ErrService, "discovery", "decode", "payload did not parse", errors.New("boom"))
	attrs := logging.FailureAttrs(err)
	if !logging.HasAttrKey(attrs, logging.FieldErrorKind) || !logging.HasAttrKey(attrs, logging.FieldErrorOperation) {
		t.Fatalf("expected kind and operation attrs, got %v", attrs)
	}
	if attrs[0].Value.String() != "service" {
		t.Fatalf("unexpected kind %v", attrs[0].Value)
	}
}
